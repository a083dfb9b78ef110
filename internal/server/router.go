package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wayfinder/tilecache/internal/logging"
	"github.com/wayfinder/tilecache/internal/quadtree"
	"github.com/wayfinder/tilecache/internal/tilecache"
)

// TileStore is the part of the tile cache the /tiles routes use.
// *tilecache.Cache implements it.
type TileStore interface {
	Exists(id string) bool
	ReadEntry(id string) ([]byte, bool)
	WriteEntry(req tilecache.WriteRequest) error
	Remove(id string) bool
	Nearby(r quadtree.Rect) []string
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Tiles      TileStore
	ListenPort int
	// BodyLimit caps PUT payloads; zero keeps the Fiber default.
	BodyLimit int
}

const (
	contextKeyRequestID = "_tilecache_request_id"
	contextKeyCacheHit  = "_tilecache_cache_hit"
)

// NewApp builds a Fiber application with the request middleware chain and
// the /tiles routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Tiles == nil {
		return nil, errors.New("tile store is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     opts.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	registerTileRoutes(app, opts.Tiles)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		fields := logging.RequestFields(reqID, c.Method(), c.Path(), status, cacheHit(c))
		fields["elapsed_ms"] = time.Since(start).Milliseconds()
		entry := logger.WithFields(fields)
		if err != nil && fe == nil {
			entry.WithError(err).Warn("request failed")
		} else {
			entry.Debug("request served")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func markCacheHit(c fiber.Ctx, hit bool) {
	c.Locals(contextKeyCacheHit, hit)
}

func cacheHit(c fiber.Ctx) bool {
	hit, _ := c.Locals(contextKeyCacheHit).(bool)
	return hit
}
