package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fixturePath 返回 testdata 下的瓦片缓存配置样例。
func fixturePath(name string) string {
	return filepath.Join("testdata", name)
}

func loadFixture(t *testing.T, name string) *Config {
	t.Helper()
	cfg, err := Load(fixturePath(name))
	if err != nil {
		t.Fatalf("加载 %s 失败: %v", name, err)
	}
	return cfg
}

// writeTempConfig 将 TOML 片段写入临时目录，StoragePath 缺省时指向同一临时目录下的 tiles。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	content = strings.TrimSpace(content)
	if !strings.Contains(content, "StoragePath") {
		content = "StoragePath = \"" + filepath.ToSlash(filepath.Join(dir, "tiles")) + "\"\n" + content
	}
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      7070,
			LogLevel:        "info",
			StoragePath:     "./tilecache",
			SaveInterval:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Cache: CacheConfig{
			PageSize:            256 * 1024,
			MaxPages:            255,
			FormatVersion:       1,
			SnapshotCompression: "zstd",
		},
		Index: IndexConfig{
			MaxItemsPerNode: 10,
			MinRadius:       64,
			MinLat:          -1000,
			MaxLat:          1000,
			MinLon:          -1000,
			MaxLon:          1000,
		},
	}
}
