package tilecache

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/sirupsen/logrus"

	"github.com/wayfinder/tilecache/internal/logging"
)

// PageReport describes the records of one page.
type PageReport struct {
	Page      int   `json:"page"`
	Size      int64 `json:"size"`
	Records   int   `json:"records"`
	Live      int   `json:"live"`
	Orphaned  int   `json:"orphaned"`
	LiveBytes int64 `json:"live_bytes"`
	// DeadBytes counts orphaned records and any corrupt tail.
	DeadBytes     int64 `json:"dead_bytes"`
	Corrupt       bool  `json:"corrupt"`
	CorruptOffset int64 `json:"corrupt_offset,omitempty"`
}

// ScanReport is the result of walking every page and matching records
// against the directory.
type ScanReport struct {
	Pages     []PageReport `json:"pages"`
	Records   int          `json:"records"`
	Live      int          `json:"live"`
	Orphaned  int          `json:"orphaned"`
	DeadBytes int64        `json:"dead_bytes"`
	// Dangling counts directory locations that are not a record start.
	Dangling int `json:"dangling"`
}

// Scan walks the page files. Records no identifier points at are orphaned:
// removed entries or writes lost before the last save. Their bytes are dead
// until a compaction rewrites the page.
func (c *Cache) Scan() (ScanReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ScanReport{}, ErrNotOpen
	}

	referenced := make(map[int]*roaring.Bitmap)
	for _, e := range c.dir.Locations() {
		bm := referenced[int(e.Page)]
		if bm == nil {
			bm = roaring.New()
			referenced[int(e.Page)] = bm
		}
		bm.Add(e.Offset)
	}

	pages, err := c.store.Scan()
	if err != nil {
		c.warn("cache_scan", "", err)
		return ScanReport{}, err
	}

	var report ScanReport
	seen := make(map[int]bool, len(pages))
	for _, ps := range pages {
		seen[ps.Page] = true
		refs := referenced[ps.Page]
		if refs == nil {
			refs = roaring.New()
		}
		starts := roaring.New()

		pr := PageReport{Page: ps.Page, Size: ps.Size, Records: len(ps.Records), Corrupt: ps.Corrupt}
		for _, rec := range ps.Records {
			starts.Add(rec.Location.Offset)
			if refs.Contains(rec.Location.Offset) {
				pr.Live++
				pr.LiveBytes += int64(rec.Header.Length)
			} else {
				pr.Orphaned++
				pr.DeadBytes += int64(rec.Header.Length)
			}
		}
		if ps.Corrupt {
			pr.CorruptOffset = ps.End
			pr.DeadBytes += ps.DeadTail()
		}
		report.Dangling += int(roaring.AndNot(refs, starts).GetCardinality())

		report.Pages = append(report.Pages, pr)
		report.Records += pr.Records
		report.Live += pr.Live
		report.Orphaned += pr.Orphaned
		report.DeadBytes += pr.DeadBytes
	}
	for page, refs := range referenced {
		if !seen[page] {
			report.Dangling += int(refs.GetCardinality())
		}
	}

	c.log.WithFields(logging.CacheFields("cache_scan", "")).WithFields(logrus.Fields{
		"records":    report.Records,
		"orphaned":   report.Orphaned,
		"dead_bytes": report.DeadBytes,
		"dangling":   report.Dangling,
	}).Info("page scan finished")
	return report, nil
}
