package pagestore

import (
	"fmt"

	"github.com/spf13/afero"
)

// ScannedRecord is one record header found by a page walk.
type ScannedRecord struct {
	Location Location
	Header   Header
}

// PageScan summarises one page.
type PageScan struct {
	Page    int
	Size    int64
	Records []ScannedRecord
	// End is the offset just past the last complete record.
	End int64
	// Corrupt is set when bytes after End do not form a record: either a
	// bad header or a record declaring more bytes than the page holds.
	Corrupt bool
}

// DeadTail is the number of unusable bytes at the end of the page.
func (p PageScan) DeadTail() int64 {
	return p.Size - p.End
}

// Scan walks every page record by record. It is a diagnostics and recovery
// path; lookups go through the directory instead.
func (s *Store) Scan() ([]PageScan, error) {
	pages, err := s.Pages()
	if err != nil {
		return nil, err
	}
	out := make([]PageScan, 0, len(pages))
	for _, n := range pages {
		ps, err := s.scanPage(n)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

func (s *Store) scanPage(n int) (PageScan, error) {
	f, err := s.fs.Open(PageName(n))
	if err != nil {
		return PageScan{}, fmt.Errorf("open page %d: %w", n, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return PageScan{}, err
	}
	ps := PageScan{Page: n, Size: info.Size()}
	ps.End, ps.Corrupt, err = walkPage(f, func(pos int64, h Header) {
		ps.Records = append(ps.Records, ScannedRecord{
			Location: Location{Page: uint8(n), Offset: uint32(pos)},
			Header:   h,
		})
	})
	if err != nil {
		return PageScan{}, fmt.Errorf("scan page %d: %w", n, err)
	}
	return ps, nil
}

// walkPage calls fn for every complete record of f and stops at the first
// header that is invalid or overruns the file. The configured page size is
// not a bound here: pages written under a larger size stay readable.
func walkPage(f afero.File, fn func(pos int64, h Header)) (end int64, corrupt bool, err error) {
	info, err := f.Stat()
	if err != nil {
		return 0, false, err
	}
	size := info.Size()

	var head [HeaderSize]byte
	var pos int64
	for pos < size {
		if pos+HeaderSize > size {
			return pos, true, nil
		}
		if _, err := f.ReadAt(head[:], pos); err != nil {
			return 0, false, err
		}
		h, herr := DecodeHeader(head[:])
		if herr != nil || pos+int64(h.Length) > size {
			return pos, true, nil
		}
		if fn != nil {
			fn(pos, h)
		}
		pos += int64(h.Length)
	}
	return pos, false, nil
}
