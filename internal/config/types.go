package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：管理端口、日志与缓存根目录。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	SaveInterval    Duration `mapstructure:"SaveInterval"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// CacheConfig 控制分页存储与快照格式。
type CacheConfig struct {
	PageSize            int64  `mapstructure:"PageSize"`
	MaxPages            int    `mapstructure:"MaxPages"`
	FormatVersion       int32  `mapstructure:"FormatVersion"`
	FormatLabel         string `mapstructure:"FormatLabel"`
	SnapshotCompression string `mapstructure:"SnapshotCompression"`
	LockDirectory       bool   `mapstructure:"LockDirectory"`
}

// IndexConfig 描述四叉树空间索引的根区域与分裂阈值。
type IndexConfig struct {
	MaxItemsPerNode int   `mapstructure:"MaxItemsPerNode"`
	MinRadius       int64 `mapstructure:"MinRadius"`
	MinLat          int32 `mapstructure:"MinLat"`
	MaxLat          int32 `mapstructure:"MaxLat"`
	MinLon          int32 `mapstructure:"MinLon"`
	MaxLon          int32 `mapstructure:"MaxLon"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
	Index  IndexConfig  `mapstructure:"Index"`
}
