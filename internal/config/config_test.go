package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wayfinder/tilecache/internal/storage"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg := loadFixture(t, "valid.toml")
	if cfg.Global.ListenPort != 7171 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.SaveInterval.DurationValue() != 45*time.Second {
		t.Fatalf("纯数字 SaveInterval 应按秒解析, got %s", cfg.Global.SaveInterval.DurationValue())
	}
	if cfg.Global.ShutdownTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("ShutdownTimeout 应填充默认值")
	}
	if cfg.Cache.MaxPages != 255 {
		t.Fatalf("MaxPages 应填充默认值, got %d", cfg.Cache.MaxPages)
	}
	if cfg.Cache.FormatVersion != 7 || cfg.Cache.FormatLabel != "vector-v7" {
		t.Fatalf("格式版本解析错误: %+v", cfg.Cache)
	}
	if cfg.Cache.Compression() != storage.CompressionNone {
		t.Fatalf("压缩方式应为 none")
	}
	if !cfg.Cache.LockDirectory {
		t.Fatalf("LockDirectory 默认应开启")
	}
	if cfg.Index.MinRadius != 64 || cfg.Index.MaxItemsPerNode != 16 {
		t.Fatalf("索引参数解析错误: %+v", cfg.Index)
	}
}

func TestValidateRejectsBadCacheSection(t *testing.T) {
	if _, err := Load(fixturePath("missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty storage", func(c *Config) { c.Global.StoragePath = " " }, "Global.StoragePath"},
		{"bad level", func(c *Config) { c.Global.LogLevel = "loud" }, "Global.LogLevel"},
		{"negative save", func(c *Config) { c.Global.SaveInterval = Duration(-time.Second) }, "Global.SaveInterval"},
		{"zero save ok", func(c *Config) { c.Global.SaveInterval = 0 }, ""},
		{"small page", func(c *Config) { c.Cache.PageSize = 512 }, "Cache.PageSize"},
		{"too many pages", func(c *Config) { c.Cache.MaxPages = 256 }, "Cache.MaxPages"},
		{"compression", func(c *Config) { c.Cache.SnapshotCompression = "lz4" }, "Cache.SnapshotCompression"},
		{"node cap", func(c *Config) { c.Index.MaxItemsPerNode = 0 }, "Index.MaxItemsPerNode"},
		{"radius", func(c *Config) { c.Index.MinRadius = 0 }, "Index.MinRadius"},
		{"lat order", func(c *Config) { c.Index.MinLat = c.Index.MaxLat }, "Index.MinLat/MaxLat"},
		{"lon order", func(c *Config) { c.Index.MaxLon = c.Index.MinLon - 1 }, "Index.MinLon/MaxLon"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var fe FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fe.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fe.Field)
			}
		})
	}
}

func TestRuntimeOptions(t *testing.T) {
	cfg := validConfig()

	store := cfg.Cache.StoreOptions()
	if store.PageSize != 256*1024 || store.MaxPages != 255 {
		t.Fatalf("分页参数映射错误: %+v", store)
	}
	if cfg.Cache.Compression() != storage.CompressionZstd {
		t.Fatalf("压缩方式映射错误")
	}

	tree := cfg.Index.TreeOptions()
	if tree.Bounds.MinLat != -1000 || tree.Bounds.MaxLon != 1000 || tree.MaxItemsPerNode != 10 {
		t.Fatalf("索引参数映射错误: %+v", tree)
	}
}
