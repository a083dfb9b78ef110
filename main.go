package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/wayfinder/tilecache/internal/config"
	"github.com/wayfinder/tilecache/internal/logging"
	"github.com/wayfinder/tilecache/internal/server"
	"github.com/wayfinder/tilecache/internal/server/routes"
	"github.com/wayfinder/tilecache/internal/storage"
	"github.com/wayfinder/tilecache/internal/tilecache"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	scanOnly    bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["page_size"] = cfg.Cache.PageSize
		fields["format_version"] = cfg.Cache.FormatVersion
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 瓦片缓存（加锁 + 快照恢复）→ 扫描或 Fiber 管理服务。
	cache, err := openCache(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "打开瓦片缓存失败: %v\n", err)
		return 1
	}

	if opts.scanOnly {
		return runScan(cache)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["format_version"] = cfg.Cache.FormatVersion
	logger.WithFields(fields).Info("配置加载完成")

	serveErr := serve(cfg, cache, logger)
	closeErr := cache.Close()
	if err := errors.Join(serveErr, closeErr); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务异常退出: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tilecache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		scanOnly   bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TILECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&scanOnly, "scan", false, "扫描页文件并输出 JSON 报告后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TILECACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		scanOnly:    scanOnly,
	}, nil
}

func openCache(cfg *config.Config, logger *logrus.Logger) (*tilecache.Cache, error) {
	fsys, err := storage.NewOsFS(cfg.Global.StoragePath)
	if err != nil {
		return nil, err
	}

	opts := tilecache.Options{
		FS:          fsys,
		Store:       cfg.Cache.StoreOptions(),
		Index:       cfg.Index.TreeOptions(),
		Format:      tilecache.FormatDescriptor{Version: cfg.Cache.FormatVersion, Label: cfg.Cache.FormatLabel},
		Compression: cfg.Cache.Compression(),
		Logger:      logger,
	}
	if cfg.Cache.LockDirectory {
		opts.LockPath = cfg.Global.StoragePath
	}

	cache, err := tilecache.New(opts)
	if err != nil {
		return nil, err
	}
	if err := cache.Open(); err != nil {
		return nil, err
	}
	return cache, nil
}

func runScan(cache *tilecache.Cache) int {
	defer cache.Close()

	report, err := cache.Scan()
	if err != nil {
		fmt.Fprintf(stdErr, "扫描页文件失败: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stdErr, "输出扫描报告失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 启动管理服务，收到 SIGINT/SIGTERM 后在 ShutdownTimeout 内优雅退出。
func serve(cfg *config.Config, cache *tilecache.Cache, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Tiles:      cache,
		ListenPort: port,
		BodyLimit:  int(cfg.Cache.PageSize),
	})
	if err != nil {
		return err
	}
	routes.RegisterAdminRoutes(app, cache, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go saveLoop(ctx, cache, cfg.Global.SaveInterval.DurationValue(), logger)

	listenErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		listenErr <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，正在关闭服务")
	if err := app.ShutdownWithTimeout(cfg.Global.ShutdownTimeout.DurationValue()); err != nil {
		return err
	}
	return <-listenErr
}

// saveLoop 周期性地将脏缓存写入快照，interval 为 0 时关闭。
func saveLoop(ctx context.Context, cache *tilecache.Cache, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cache.State() != tilecache.StateDirty {
				continue
			}
			if err := cache.Save(); err != nil {
				logger.WithFields(logging.CacheFields("cache_save", "")).Warn("periodic save failed")
			}
		}
	}
}
