package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/wayfinder/tilecache/internal/config"
	"github.com/wayfinder/tilecache/internal/version"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "tilecache.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tilecache.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestCacheFieldsOmitsEmptyIdentifier(t *testing.T) {
	fields := CacheFields("cache_save", "")
	if fields["action"] != "cache_save" {
		t.Fatalf("action 字段缺失: %v", fields)
	}
	if _, ok := fields["identifier"]; ok {
		t.Fatalf("空 identifier 不应写入字段")
	}

	fields = CacheFields("cache_read", "G+1aA7V0Y")
	if fields["identifier"] != "G+1aA7V0Y" {
		t.Fatalf("identifier 字段错误: %v", fields)
	}
}

func TestRequestFields(t *testing.T) {
	fields := RequestFields("req-1", "GET", "/tiles/a", 200, true)
	if fields["component"] != "admin" {
		t.Fatalf("请求日志应归属 admin 组件: %v", fields)
	}
	if fields["status"] != 200 || fields["cache_hit"] != true || fields["request_id"] != "req-1" {
		t.Fatalf("请求字段错误: %v", fields)
	}
}

func TestLoggerAddsDefaultComponentAndVersion(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)

	logger.Info("plain")
	logger.WithFields(CacheFields("cache_save", "")).Info("cache")

	dec := json.NewDecoder(buf)
	var plain, cache map[string]any
	if err := dec.Decode(&plain); err != nil {
		t.Fatalf("解析日志失败: %v", err)
	}
	if err := dec.Decode(&cache); err != nil {
		t.Fatalf("解析日志失败: %v", err)
	}

	if plain["component"] != DefaultComponent {
		t.Fatalf("未指定 component 时应使用默认值: %v", plain)
	}
	if plain["version"] != version.Version || plain["commit"] != version.Commit {
		t.Fatalf("应写入构建版本: %v", plain)
	}
	if cache["component"] != "cache" {
		t.Fatalf("显式 component 不应被覆盖: %v", cache)
	}
	if cache["version"] != version.Version {
		t.Fatalf("缓存日志也应带版本: %v", cache)
	}
}
