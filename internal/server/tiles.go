package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/wayfinder/tilecache/internal/pagestore"
	"github.com/wayfinder/tilecache/internal/quadtree"
	"github.com/wayfinder/tilecache/internal/tilecache"
)

func registerTileRoutes(app *fiber.App, tiles TileStore) {
	app.Head("/tiles/:id", func(c fiber.Ctx) error {
		hit := tiles.Exists(c.Params("id"))
		markCacheHit(c, hit)
		if !hit {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	app.Get("/tiles/:id", func(c fiber.Ctx) error {
		id := c.Params("id")
		payload, ok := tiles.ReadEntry(id)
		markCacheHit(c, ok)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tile_not_found", "identifier": id})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		return c.Send(payload)
	})

	app.Put("/tiles/:id", func(c fiber.Ctx) error {
		id := c.Params("id")
		ident := tilecache.Named(id)
		lat, hasLat, err := QueryInt32(c, "lat")
		if err != nil {
			return badRequest(c, "invalid_lat")
		}
		lon, hasLon, err := QueryInt32(c, "lon")
		if err != nil {
			return badRequest(c, "invalid_lon")
		}
		if hasLat != hasLon {
			return badRequest(c, "lat_lon_required_together")
		}
		if hasLat {
			ident = tilecache.At(id, lat, lon)
		}
		importance := int16(0)
		if raw := strings.TrimSpace(c.Query("importance")); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 16)
			if err != nil {
				return badRequest(c, "invalid_importance")
			}
			importance = int16(v)
		}

		body := c.Body()
		err = tiles.WriteEntry(tilecache.WriteRequest{
			Parts:       [][]byte{body},
			Identifiers: []tilecache.Identifier{ident},
			TotalSize:   len(body),
			PartCount:   1,
			Importance:  importance,
		})
		if errors.Is(err, tilecache.ErrInvalidRequest) {
			return badRequest(c, err.Error())
		}
		if errors.Is(err, pagestore.ErrRecordTooLarge) {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "tile_too_large", "detail": err.Error()})
		}
		if err != nil {
			return c.Status(fiber.StatusInsufficientStorage).JSON(fiber.Map{"error": "write_failed", "detail": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"identifier": id, "bytes": len(body)})
	})

	app.Delete("/tiles/:id", func(c fiber.Ctx) error {
		if !tiles.Remove(c.Params("id")) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/tiles", func(c fiber.Ctx) error {
		r := quadtree.WorldRect
		for _, q := range []struct {
			key string
			dst *int32
		}{
			{"minLat", &r.MinLat},
			{"minLon", &r.MinLon},
			{"maxLat", &r.MaxLat},
			{"maxLon", &r.MaxLon},
		} {
			v, ok, err := QueryInt32(c, q.key)
			if err != nil {
				return badRequest(c, "invalid_"+q.key)
			}
			if ok {
				*q.dst = v
			}
		}
		if !r.Valid() {
			return badRequest(c, "empty_region")
		}
		ids := tiles.Nearby(r)
		if ids == nil {
			ids = []string{}
		}
		return c.JSON(fiber.Map{"identifiers": ids})
	})
}

// QueryInt32 parses an optional int32 query parameter; ok is false when the
// parameter is absent.
func QueryInt32(c fiber.Ctx, key string) (int32, bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false, err
	}
	return int32(v), true, nil
}

func badRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}
