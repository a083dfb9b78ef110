package pagestore

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/afero"

	"github.com/wayfinder/tilecache/internal/storage"
)

const (
	DefaultPageSize = 256 * 1024
	// DefaultMaxPages is bounded by the one-byte page number of a location.
	DefaultMaxPages = math.MaxUint8
)

var (
	ErrPageNotFound     = errors.New("page not found")
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrRecordTooLarge   = errors.New("record larger than a page")
	ErrStoreFull        = errors.New("page store is full")
	ErrClosed           = errors.New("page store is closed")
)

// Location addresses the first byte of a record.
type Location struct {
	Page   uint8
	Offset uint32
}

// Options configures a Store.
type Options struct {
	PageSize int64
	MaxPages int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > math.MaxUint32 {
		o.PageSize = math.MaxUint32
	}
	if o.MaxPages <= 0 || o.MaxPages > DefaultMaxPages {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// PageName returns the file name of page n.
func PageName(n int) string {
	return fmt.Sprintf("page_%03d.dat", n)
}

// Store is a sequence of bounded, append-only page files inside fsys.
// It is not safe for concurrent use.
type Store struct {
	fs   afero.Fs
	opts Options

	page    int
	offset  int64
	current afero.File
}

// New creates a store over fsys. Call Open before use.
func New(fsys afero.Fs, opts Options) *Store {
	return &Store{fs: fsys, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (s *Store) Options() Options {
	return s.opts
}

// Open attaches to the last existing page, or creates page 0. A partially
// written record at the end of the last page is truncated so the next append
// starts on a record boundary. Open on an open store is a no-op.
func (s *Store) Open() error {
	if s.current != nil {
		return nil
	}

	pages, err := s.Pages()
	if err != nil {
		return err
	}
	last := 0
	if len(pages) > 0 {
		last = pages[len(pages)-1]
	}

	f, err := s.fs.OpenFile(PageName(last), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open page %d: %w", last, err)
	}
	end, err := validEnd(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("scan page %d: %w", last, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if info.Size() != end {
		if err := f.Truncate(end); err != nil {
			f.Close()
			return fmt.Errorf("truncate page %d: %w", last, err)
		}
	}

	s.page = last
	s.offset = end
	s.current = f
	return nil
}

// IsOpen reports whether Open succeeded and Close has not been called.
func (s *Store) IsOpen() bool {
	return s.current != nil
}

// PageNumber returns the page receiving appends.
func (s *Store) PageNumber() int {
	return s.page
}

// CurrentOffset returns the write offset inside the current page.
func (s *Store) CurrentOffset() int64 {
	return s.offset
}

// Pages lists the existing page numbers in ascending order. Pages are
// allocated contiguously from 0, so the listing stops at the first gap.
func (s *Store) Pages() ([]int, error) {
	var pages []int
	for n := 0; n < s.opts.MaxPages; n++ {
		ok, err := storage.Exists(s.fs, PageName(n))
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		pages = append(pages, n)
	}
	return pages, nil
}

// PageLen returns the size of page n in bytes. A page written under a larger
// PageSize may exceed the current option.
func (s *Store) PageLen(n int) (int64, error) {
	if n == s.page && s.current != nil {
		return s.offset, nil
	}
	info, err := s.fs.Stat(PageName(n))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %d", ErrPageNotFound, n)
		}
		return 0, err
	}
	return info.Size(), nil
}

// Append writes b to the current page, allocating the next page first when b
// does not fit in the remaining space. A failed write is rolled back so the
// page keeps ending on a record boundary.
func (s *Store) Append(b []byte) (Location, error) {
	if s.current == nil {
		return Location{}, ErrClosed
	}
	n := int64(len(b))
	if n > s.opts.PageSize {
		return Location{}, fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, n, s.opts.PageSize)
	}

	if s.offset+n > s.opts.PageSize {
		if err := s.nextPage(); err != nil {
			return Location{}, err
		}
	}

	at := s.offset
	if _, err := s.current.WriteAt(b, at); err != nil {
		if terr := s.current.Truncate(at); terr != nil {
			err = errors.Join(err, terr)
		}
		return Location{}, fmt.Errorf("append to page %d: %w", s.page, err)
	}
	s.offset += n
	return Location{Page: uint8(s.page), Offset: uint32(at)}, nil
}

func (s *Store) nextPage() error {
	next := s.page + 1
	if next >= s.opts.MaxPages {
		return fmt.Errorf("%w: %d pages", ErrStoreFull, s.opts.MaxPages)
	}
	f, err := s.fs.OpenFile(PageName(next), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("allocate page %d: %w", next, err)
	}
	if err := s.current.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := s.current.Close(); err != nil {
		f.Close()
		return err
	}
	s.page = next
	s.offset = 0
	s.current = f
	return nil
}

// OpenReadStream opens page positioned at offset. The stream ends at the end
// of the page.
func (s *Store) OpenReadStream(page int, offset int64) (io.ReadCloser, error) {
	r, err := s.openSection(page, offset)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ReadRecord reads the record starting at loc.
func (s *Store) ReadRecord(loc Location) (Record, error) {
	r, err := s.openSection(int(loc.Page), int64(loc.Offset))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readRecord(r, r.Size())
}

type sectionReader struct {
	*io.SectionReader
	f afero.File
}

func (r sectionReader) Close() error {
	return r.f.Close()
}

func (s *Store) openSection(page int, offset int64) (sectionReader, error) {
	if page < 0 || page >= s.opts.MaxPages {
		return sectionReader{}, fmt.Errorf("%w: %d", ErrPageNotFound, page)
	}
	f, err := s.fs.Open(PageName(page))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sectionReader{}, fmt.Errorf("%w: %d", ErrPageNotFound, page)
		}
		return sectionReader{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return sectionReader{}, err
	}
	if offset < 0 || offset >= info.Size() {
		f.Close()
		return sectionReader{}, fmt.Errorf("%w: page %d offset %d size %d", ErrOffsetOutOfRange, page, offset, info.Size())
	}
	return sectionReader{SectionReader: io.NewSectionReader(f, offset, info.Size()-offset), f: f}, nil
}

// Sync flushes the current page to stable storage.
func (s *Store) Sync() error {
	if s.current == nil {
		return ErrClosed
	}
	return s.current.Sync()
}

// Reset deletes every page and starts over at page 0, offset 0.
func (s *Store) Reset() error {
	wasOpen := s.current != nil
	if wasOpen {
		if err := s.current.Close(); err != nil {
			return err
		}
		s.current = nil
	}

	for n := 0; n < s.opts.MaxPages; n++ {
		if err := storage.RemoveIfExists(s.fs, PageName(n)); err != nil {
			return fmt.Errorf("remove page %d: %w", n, err)
		}
	}
	s.page, s.offset = 0, 0

	if wasOpen {
		return s.Open()
	}
	return nil
}

// Close syncs and releases the current page. Closing twice is safe.
func (s *Store) Close() error {
	if s.current == nil {
		return nil
	}
	f := s.current
	s.current = nil
	return errors.Join(f.Sync(), f.Close())
}

// validEnd returns the offset just past the last complete record of f.
func validEnd(f afero.File) (int64, error) {
	end, _, err := walkPage(f, nil)
	return end, err
}
