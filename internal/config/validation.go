package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wayfinder/tilecache/internal/storage"
)

const minPageSize = 1024

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.SaveInterval.DurationValue() < 0 {
		return newFieldError("Global.SaveInterval", "不能为负数")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}

	cache := c.Cache
	if cache.PageSize < minPageSize {
		return newFieldError("Cache.PageSize", "不能小于 1024")
	}
	if cache.MaxPages < 1 || cache.MaxPages > 255 {
		return newFieldError("Cache.MaxPages", "必须在 1-255")
	}
	if _, err := storage.ParseCompression(cache.SnapshotCompression); err != nil {
		return newFieldError("Cache.SnapshotCompression", "仅支持 zstd/none")
	}

	idx := c.Index
	if idx.MaxItemsPerNode < 1 {
		return newFieldError("Index.MaxItemsPerNode", "必须大于 0")
	}
	if idx.MinRadius < 1 {
		return newFieldError("Index.MinRadius", "必须大于 0")
	}
	if idx.MinLat >= idx.MaxLat {
		return newFieldError("Index.MinLat/MaxLat", "MinLat 必须小于 MaxLat")
	}
	if idx.MinLon >= idx.MaxLon {
		return newFieldError("Index.MinLon/MaxLon", "MinLon 必须小于 MaxLon")
	}

	return nil
}
