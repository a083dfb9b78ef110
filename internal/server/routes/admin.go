package routes

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/wayfinder/tilecache/internal/logging"
	"github.com/wayfinder/tilecache/internal/quadtree"
	"github.com/wayfinder/tilecache/internal/server"
	"github.com/wayfinder/tilecache/internal/tilecache"
)

// AdminCache is the part of the tile cache the diagnostics routes use.
type AdminCache interface {
	Stats() tilecache.Stats
	Save() error
	Scan() (tilecache.ScanReport, error)
	Evict(policy tilecache.EvictionPolicy) int
}

// RegisterAdminRoutes 暴露 /-/ 诊断接口：健康检查、统计、快照、扫描与按距离淘汰。
func RegisterAdminRoutes(app *fiber.App, cache AdminCache, logger *logrus.Logger) {
	if app == nil || cache == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(cache.Stats())
	})

	app.Post("/-/save", func(c fiber.Ctx) error {
		if err := cache.Save(); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "save_failed", "detail": err.Error()})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/scan", func(c fiber.Ctx) error {
		report, err := cache.Scan()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "scan_failed", "detail": err.Error()})
		}
		return c.JSON(report)
	})

	app.Post("/-/evict", func(c fiber.Ctx) error {
		lat, hasLat, err := server.QueryInt32(c, "lat")
		if err != nil || !hasLat {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "lat_required"})
		}
		lon, hasLon, err := server.QueryInt32(c, "lon")
		if err != nil || !hasLon {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "lon_required"})
		}
		keep, err := strconv.Atoi(strings.TrimSpace(c.Query("keep")))
		if err != nil || keep < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "keep_required"})
		}

		removed := cache.Evict(tilecache.DistancePolicy{
			Center:     quadtree.Point{Lat: lat, Lon: lon},
			MaxEntries: keep,
		})
		if logger != nil {
			fields := logging.CacheFields("cache_evict", "")
			fields["request_id"] = server.RequestID(c)
			fields["removed"] = removed
			fields["keep"] = keep
			logger.WithFields(fields).Info("admin eviction")
		}
		return c.JSON(fiber.Map{"removed": removed})
	})
}
