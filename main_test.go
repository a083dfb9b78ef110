package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/wayfinder/tilecache/internal/storage"
	"github.com/wayfinder/tilecache/internal/tilecache"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("TILECACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--scan"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
	if !opts.scanOnly {
		t.Fatalf("应解析 --scan")
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("应输出配置错误，得到 %q", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "tilecache") {
		t.Fatalf("version 输出应包含 tilecache 标识")
	}
}

func scanConfig(t *testing.T, storagePath string) string {
	return writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
ListenPort = 7070

[Cache]
PageSize = 4096
FormatVersion = 3
LockDirectory = true
`, storagePath))
}

func TestRunScanReportsEmptyStore(t *testing.T) {
	storagePath := filepath.Join(t.TempDir(), "tiles")
	useBufferWriters(t)

	code := run(cliOptions{configPath: scanConfig(t, storagePath), scanOnly: true})
	if code != 0 {
		t.Fatalf("scan 模式应成功退出，得到 %d: %s", code, stdErrBuffer().String())
	}

	var report tilecache.ScanReport
	if err := json.Unmarshal(stdOutBuffer().Bytes(), &report); err != nil {
		t.Fatalf("scan 输出应为 JSON: %v", err)
	}
	if report.Records != 0 || report.Orphaned != 0 {
		t.Fatalf("空缓存不应有记录: %+v", report)
	}
}

func TestRunScanCountsWrittenRecords(t *testing.T) {
	storagePath := filepath.Join(t.TempDir(), "tiles")
	configPath := scanConfig(t, storagePath)

	fsys, err := storage.NewOsFS(storagePath)
	if err != nil {
		t.Fatalf("创建存储目录失败: %v", err)
	}
	cache, err := tilecache.New(tilecache.Options{FS: fsys, Format: tilecache.FormatDescriptor{Version: 3}})
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	if err := cache.Open(); err != nil {
		t.Fatalf("打开缓存失败: %v", err)
	}
	for _, id := range []string{"A+1", "A+2"} {
		if err := cache.WriteEntry(tilecache.WriteRequest{
			Parts:       [][]byte{[]byte("tile-" + id)},
			Identifiers: []tilecache.Identifier{tilecache.Named(id)},
		}); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}
	if !cache.Remove("A+2") {
		t.Fatalf("删除应成功")
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, scanOnly: true}); code != 0 {
		t.Fatalf("scan 模式应成功退出，得到 %d: %s", code, stdErrBuffer().String())
	}
	var report tilecache.ScanReport
	if err := json.Unmarshal(stdOutBuffer().Bytes(), &report); err != nil {
		t.Fatalf("scan 输出应为 JSON: %v", err)
	}
	if report.Records != 2 || report.Live != 1 || report.Orphaned != 1 {
		t.Fatalf("期望 2 条记录（1 存活 1 孤立），得到 %+v", report)
	}
}

func TestRunFailsWhenStorageLocked(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("目录锁仅在 flock 平台生效")
	}
	storagePath := filepath.Join(t.TempDir(), "tiles")
	if _, err := storage.NewOsFS(storagePath); err != nil {
		t.Fatalf("创建存储目录失败: %v", err)
	}
	lock, err := storage.Lock(storagePath)
	if err != nil {
		t.Fatalf("加锁失败: %v", err)
	}
	defer lock.Release()

	useBufferWriters(t)
	code := run(cliOptions{configPath: scanConfig(t, storagePath), scanOnly: true})
	if code == 0 {
		t.Fatalf("存储目录被占用时应失败")
	}
	if !strings.Contains(stdErrBuffer().String(), "打开瓦片缓存失败") {
		t.Fatalf("应输出打开失败信息，得到 %q", stdErrBuffer().String())
	}
}

func TestSaveLoopPersistsDirtyCache(t *testing.T) {
	cache, err := tilecache.New(tilecache.Options{FS: storage.NewMemFS(), Format: tilecache.FormatDescriptor{Version: 1}})
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	if err := cache.Open(); err != nil {
		t.Fatalf("打开缓存失败: %v", err)
	}
	defer cache.Close()

	if err := cache.WriteEntry(tilecache.WriteRequest{
		Parts:       [][]byte{[]byte("payload")},
		Identifiers: []tilecache.Identifier{tilecache.Named("B+1")},
	}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if cache.State() != tilecache.StateDirty {
		t.Fatalf("写入后应为 dirty")
	}

	useBufferWriters(t)
	logger := newTestLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		saveLoop(ctx, cache, 5*time.Millisecond, logger)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cache.State() != tilecache.StateClean {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("周期保存未生效，状态 %s", cache.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
