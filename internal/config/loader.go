package config

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	applyIndexDefaults(&cfg.Index)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 7070)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./tilecache")
	v.SetDefault("SaveInterval", "30s")
	v.SetDefault("ShutdownTimeout", "5s")

	v.SetDefault("Cache.PageSize", 256*1024)
	v.SetDefault("Cache.MaxPages", 255)
	v.SetDefault("Cache.FormatVersion", 1)
	v.SetDefault("Cache.SnapshotCompression", "zstd")
	v.SetDefault("Cache.LockDirectory", true)

	v.SetDefault("Index.MaxItemsPerNode", 10)
	v.SetDefault("Index.MinRadius", 64)
	v.SetDefault("Index.MinLat", math.MinInt32)
	v.SetDefault("Index.MaxLat", math.MaxInt32)
	v.SetDefault("Index.MinLon", math.MinInt32)
	v.SetDefault("Index.MaxLon", math.MaxInt32)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 7070
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.PageSize == 0 {
		c.PageSize = 256 * 1024
	}
	if c.MaxPages == 0 {
		c.MaxPages = 255
	}
}

func applyIndexDefaults(i *IndexConfig) {
	if i.MaxItemsPerNode == 0 {
		i.MaxItemsPerNode = 10
	}
	if i.MinRadius == 0 {
		i.MinRadius = 64
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
