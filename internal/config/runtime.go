package config

import (
	"github.com/wayfinder/tilecache/internal/pagestore"
	"github.com/wayfinder/tilecache/internal/quadtree"
	"github.com/wayfinder/tilecache/internal/storage"
)

// StoreOptions 将 [Cache] 段映射为分页存储参数。
func (c CacheConfig) StoreOptions() pagestore.Options {
	return pagestore.Options{PageSize: c.PageSize, MaxPages: c.MaxPages}
}

// Compression 返回快照压缩方式；Validate 之后不会失败。
func (c CacheConfig) Compression() storage.Compression {
	comp, err := storage.ParseCompression(c.SnapshotCompression)
	if err != nil {
		return storage.CompressionNone
	}
	return comp
}

// TreeOptions 将 [Index] 段映射为四叉树参数。
func (i IndexConfig) TreeOptions() quadtree.Options {
	return quadtree.Options{
		MaxItemsPerNode: i.MaxItemsPerNode,
		MinRadius:       i.MinRadius,
		Bounds: quadtree.Rect{
			MinLat: i.MinLat,
			MinLon: i.MinLon,
			MaxLat: i.MaxLat,
			MaxLon: i.MaxLon,
		},
	}
}
