package tilecache

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/wayfinder/tilecache/internal/directory"
	"github.com/wayfinder/tilecache/internal/logging"
	"github.com/wayfinder/tilecache/internal/pagestore"
	"github.com/wayfinder/tilecache/internal/quadtree"
	"github.com/wayfinder/tilecache/internal/storage"
)

var (
	ErrNotOpen        = errors.New("tile cache is not open")
	ErrInvalidRequest = errors.New("invalid write request")
)

// FormatDescriptor identifies the map/protocol format the cached data was
// produced for. A snapshot written under another Version is discarded.
type FormatDescriptor struct {
	Version int32
	Label   string
}

// State is the lifecycle state of a Cache.
type State int

const (
	StateClosed State = iota
	StateClean
	StateDirty
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Cache.
type Options struct {
	// FS is rooted at the cache directory. Required.
	FS          afero.Fs
	Store       pagestore.Options
	Index       quadtree.Options
	Format      FormatDescriptor
	Compression storage.Compression
	// LockPath, when set, is an OS directory locked for the lifetime of the
	// open cache.
	LockPath string
	Logger   *logrus.Logger
}

// Identifier names one cached resource, optionally at a map position.
type Identifier struct {
	Name     string
	Position *quadtree.Point
}

// Named is an identifier without a position.
func Named(name string) Identifier {
	return Identifier{Name: name}
}

// At is an identifier indexed at (lat, lon).
func At(name string, lat, lon int32) Identifier {
	return Identifier{Name: name, Position: &quadtree.Point{Lat: lat, Lon: lon}}
}

// WriteRequest is one record to cache. With PartCount 1 the single part is
// stored under every identifier; otherwise part i belongs to Identifiers[i].
type WriteRequest struct {
	Parts       [][]byte
	Identifiers []Identifier
	// Primary defaults to the first identifier.
	Primary string
	// TotalSize and PartCount, when non-zero, must match Parts.
	TotalSize  int
	PartCount  int
	Importance int16
}

// Cache is the tile cache. Create it with New and call Open before use.
type Cache struct {
	mu sync.Mutex

	fs     afero.Fs
	opts   Options
	format FormatDescriptor
	log    *logrus.Logger

	store     *pagestore.Store
	dir       *directory.Directory
	index     *quadtree.Tree
	positions map[string]quadtree.Point
	lock      *storage.FileLock
	state     State
	// version is the format the loaded entries were written under. Save
	// stamps it into the header, never the pending c.format.
	version int32
}

// New builds a closed cache.
func New(opts Options) (*Cache, error) {
	if opts.FS == nil {
		return nil, errors.New("tile cache requires a file system")
	}
	if opts.Compression == "" {
		opts.Compression = storage.CompressionNone
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Cache{
		fs:        opts.FS,
		opts:      opts,
		format:    opts.Format,
		log:       logger,
		store:     pagestore.New(opts.FS, opts.Store),
		dir:       directory.New(),
		index:     quadtree.New(opts.Index),
		positions: make(map[string]quadtree.Point),
	}, nil
}

// SetFormatDescriptor sets the format future Open calls validate against.
// Entries already open keep their version: a later Save does not relabel
// them, so the next Open under a new version invalidates them.
func (c *Cache) SetFormatDescriptor(desc FormatDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = desc
}

// FormatDescriptor returns the current format.
func (c *Cache) FormatDescriptor() FormatDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// State returns the lifecycle state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open attaches the page store and restores the last snapshot. A missing,
// stale or inconsistent snapshot invalidates the cache instead of failing.
// Opening an open cache is a no-op.
func (c *Cache) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return nil
	}

	if c.opts.LockPath != "" {
		lock, err := storage.Lock(c.opts.LockPath)
		if err != nil {
			c.warn("cache_open", "", err)
			return err
		}
		c.lock = lock
	}

	if err := c.store.Open(); err != nil {
		c.releaseLock()
		c.warn("cache_open", "", err)
		return fmt.Errorf("open page store: %w", err)
	}

	if err := c.restore(); err != nil {
		c.log.WithFields(logging.CacheFields("cache_invalidate", "")).
			WithField("format_version", c.format.Version).
			Warn(err.Error())
		if ierr := c.invalidate(); ierr != nil {
			c.store.Close()
			c.releaseLock()
			c.warn("cache_open", "", ierr)
			return ierr
		}
	}

	c.state = StateClean
	c.log.WithFields(logging.CacheFields("cache_open", "")).WithFields(logrus.Fields{
		"entries":        c.dir.Len(),
		"page":           c.store.PageNumber(),
		"offset":         c.store.CurrentOffset(),
		"format_version": c.format.Version,
	}).Info("tile cache opened")
	return nil
}

// restore loads the snapshot. Any returned error means the on-disk state
// cannot be trusted and the cache must be invalidated.
func (c *Cache) restore() error {
	h, err := readHeader(c.fs)
	if errors.Is(err, errNoHeader) {
		if c.store.PageNumber() == 0 && c.store.CurrentOffset() == 0 {
			c.version = c.format.Version
			return c.save()
		}
		return errors.New("page files without a snapshot header")
	}
	if err != nil {
		return err
	}
	if h.Version != c.format.Version {
		return fmt.Errorf("format version %d does not match %d", h.Version, c.format.Version)
	}
	if int(h.Page) > c.store.PageNumber() {
		return fmt.Errorf("snapshot refers to page %d beyond last page %d", h.Page, c.store.PageNumber())
	}

	dir, err := c.readDirectory()
	if err != nil {
		return err
	}
	leaves, err := c.readIndex()
	if err != nil {
		return err
	}
	if err := c.index.Restore(leaves); err != nil {
		return err
	}

	positions := make(map[string]quadtree.Point, c.index.Len())
	for _, leaf := range leaves {
		for _, s := range leaf.Slots {
			for _, name := range s.Names {
				if !dir.Contains(name) {
					c.index.Clear()
					return fmt.Errorf("indexed identifier %q missing from directory", name)
				}
				positions[name] = s.Point
			}
		}
	}

	var bad error
	dir.Each(func(id string, e directory.Entry) bool {
		if !c.withinStore(e) {
			bad = fmt.Errorf("identifier %q points past the end of page %d", id, e.Page)
			return false
		}
		return true
	})
	if bad != nil {
		c.index.Clear()
		return bad
	}

	c.dir = dir
	c.positions = positions
	c.version = h.Version
	return nil
}

func (c *Cache) withinStore(e directory.Entry) bool {
	if int(e.Page) > c.store.PageNumber() {
		return false
	}
	size, err := c.store.PageLen(int(e.Page))
	return err == nil && int64(e.Offset) < size
}

func (c *Cache) readDirectory() (*directory.Directory, error) {
	var dir *directory.Directory
	err := c.readSnapshot(DirectoryFile, func(r io.Reader) error {
		var err error
		dir, err = directory.ReadSnapshot(r)
		return err
	})
	return dir, err
}

func (c *Cache) readIndex() ([]quadtree.LeafSnapshot, error) {
	var leaves []quadtree.LeafSnapshot
	err := c.readSnapshot(IndexFile, func(r io.Reader) error {
		var err error
		leaves, err = quadtree.ReadSnapshot(r)
		return err
	})
	return leaves, err
}

func (c *Cache) readSnapshot(name string, decode func(io.Reader) error) error {
	f, err := c.fs.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r, err := storage.OpenSnapshotReader(f)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer r.Close()
	if err := decode(r); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// invalidate drops every entry and every page, then commits an empty
// snapshot under the current format version.
func (c *Cache) invalidate() error {
	c.dir.Clear()
	c.index.Clear()
	clear(c.positions)

	if err := c.store.Reset(); err != nil {
		return fmt.Errorf("reset page store: %w", err)
	}
	for _, name := range []string{DirectoryFile, IndexFile} {
		if err := storage.RemoveIfExists(c.fs, name); err != nil {
			return err
		}
	}
	c.version = c.format.Version
	return c.save()
}

// Invalidate discards the whole cache.
func (c *Cache) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrNotOpen
	}
	if err := c.invalidate(); err != nil {
		c.warn("cache_invalidate", "", err)
		return err
	}
	c.log.WithFields(logging.CacheFields("cache_invalidate", "")).Info("tile cache invalidated")
	c.state = StateClean
	return nil
}

// WriteEntry appends one record and registers every identifier. On error
// nothing is registered.
func (c *Cache) WriteEntry(req WriteRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrNotOpen
	}

	rec, primary, err := c.buildRecord(req)
	if err != nil {
		c.warn("cache_write", req.Primary, err)
		return err
	}
	data, err := pagestore.EncodeRecord(rec)
	if err != nil {
		c.warn("cache_write", primary, err)
		return err
	}
	loc, err := c.store.Append(data)
	if err != nil {
		c.warn("cache_write", primary, err)
		return err
	}

	entry := directory.Entry{Page: loc.Page, Offset: loc.Offset}
	var hint *quadtree.Node
	for _, id := range req.Identifiers {
		c.unindex(id.Name)
		c.dir.Put(id.Name, entry)
		if id.Position == nil {
			continue
		}
		leaf, err := c.index.Insert(quadtree.Entry{Lat: id.Position.Lat, Lon: id.Position.Lon, Name: id.Name}, hint)
		if err != nil {
			// unreachable: buildRecord checked the bounds
			c.warn("cache_write", id.Name, err)
			continue
		}
		hint = leaf
		c.positions[id.Name] = *id.Position
	}
	c.state = StateDirty

	c.log.WithFields(logging.CacheFields("cache_write", primary)).WithFields(logrus.Fields{
		"page":   loc.Page,
		"offset": loc.Offset,
		"bytes":  len(data),
		"parts":  len(req.Parts),
	}).Debug("record appended")
	return nil
}

func (c *Cache) buildRecord(req WriteRequest) (pagestore.Record, string, error) {
	if len(req.Parts) == 0 || len(req.Identifiers) == 0 {
		return nil, "", fmt.Errorf("%w: parts and identifiers are required", ErrInvalidRequest)
	}
	if req.PartCount != 0 && req.PartCount != len(req.Parts) {
		return nil, "", fmt.Errorf("%w: part count %d, got %d parts", ErrInvalidRequest, req.PartCount, len(req.Parts))
	}
	total := 0
	for _, p := range req.Parts {
		total += len(p)
	}
	if req.TotalSize != 0 && req.TotalSize != total {
		return nil, "", fmt.Errorf("%w: total size %d, got %d bytes", ErrInvalidRequest, req.TotalSize, total)
	}

	names := make([]string, 0, len(req.Identifiers))
	for _, id := range req.Identifiers {
		if id.Name == "" {
			return nil, "", fmt.Errorf("%w: empty identifier", ErrInvalidRequest)
		}
		if slices.Contains(names, id.Name) {
			return nil, "", fmt.Errorf("%w: duplicate identifier %q", ErrInvalidRequest, id.Name)
		}
		if id.Position != nil && !c.index.Bounds().Contains(*id.Position) {
			return nil, "", fmt.Errorf("%w: %q: %w", ErrInvalidRequest, id.Name, quadtree.ErrOutOfBounds)
		}
		names = append(names, id.Name)
	}
	primary := req.Primary
	if primary == "" {
		primary = names[0]
	}
	if !slices.Contains(names, primary) {
		return nil, "", fmt.Errorf("%w: primary %q is not among the identifiers", ErrInvalidRequest, primary)
	}

	if len(req.Parts) == 1 {
		return pagestore.SingleRecord{Importance: req.Importance, Name: primary, Payload: req.Parts[0]}, primary, nil
	}

	if len(names) != len(req.Parts) {
		return nil, "", fmt.Errorf("%w: %d parts need %d identifiers, got %d", ErrInvalidRequest, len(req.Parts), len(req.Parts), len(names))
	}
	parts := make([]pagestore.Part, len(req.Parts))
	seen := make(map[uint32]string, len(parts))
	for i, data := range req.Parts {
		parts[i] = pagestore.NewPart(names[i], data)
		if other, ok := seen[parts[i].Hash]; ok {
			return nil, "", fmt.Errorf("%w: %q and %q hash alike", ErrInvalidRequest, other, names[i])
		}
		seen[parts[i].Hash] = names[i]
	}
	return pagestore.MultiPartRecord{Importance: req.Importance, Parts: parts}, primary, nil
}

// unindex drops the quad tree entry of name, if any.
func (c *Cache) unindex(name string) {
	if p, ok := c.positions[name]; ok {
		c.index.Remove(p, name)
		delete(c.positions, name)
	}
}

// Exists reports whether id is cached.
func (c *Cache) Exists(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateClosed && c.dir.Contains(id)
}

// ReadEntry returns the payload stored for id. Unknown identifiers and
// unreadable records both report false; the latter is logged.
func (c *Cache) ReadEntry(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, false
	}
	e, ok := c.dir.Get(id)
	if !ok {
		return nil, false
	}

	rec, err := c.store.ReadRecord(pagestore.Location{Page: e.Page, Offset: e.Offset})
	if err != nil {
		c.warn("cache_read", id, err)
		return nil, false
	}
	payload, err := pagestore.Payload(rec, id)
	if err != nil {
		c.warn("cache_read", id, err)
		return nil, false
	}
	return payload, true
}

// Remove drops id together with every identifier written in the same
// record. The record bytes stay in the page. Unknown identifiers report false.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(id)
}

func (c *Cache) remove(id string) bool {
	if c.state == StateClosed || !c.dir.Contains(id) {
		return false
	}
	for _, name := range c.dir.RemoveGroup(id, c.dir.Group(id)) {
		c.unindex(name)
	}
	c.state = StateDirty
	return true
}

// Save persists the directory and the quad tree, then the header. The header
// is only replaced once both snapshots are durable.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrNotOpen
	}
	if err := c.save(); err != nil {
		c.warn("cache_save", "", err)
		return err
	}
	return nil
}

func (c *Cache) save() error {
	if err := c.store.Sync(); err != nil {
		return fmt.Errorf("sync pages: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		return c.writeSnapshot(DirectoryFile, c.dir.WriteSnapshot)
	})
	g.Go(func() error {
		leaves := c.index.Snapshot()
		return c.writeSnapshot(IndexFile, func(w io.Writer) error {
			return quadtree.WriteSnapshot(w, leaves)
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	h := header{Page: uint8(c.store.PageNumber()), Version: c.version}
	if err := writeHeader(c.fs, h); err != nil {
		return fmt.Errorf("write %s: %w", HeaderFile, err)
	}
	c.state = StateClean

	c.log.WithFields(logging.CacheFields("cache_save", "")).WithFields(logrus.Fields{
		"entries": c.dir.Len(),
		"page":    h.Page,
	}).Debug("snapshot saved")
	return nil
}

func (c *Cache) writeSnapshot(name string, encode func(io.Writer) error) error {
	err := storage.WriteFileAtomic(c.fs, name, func(w io.Writer) error {
		sw, err := storage.NewSnapshotWriter(w, c.opts.Compression)
		if err != nil {
			return err
		}
		if err := encode(sw); err != nil {
			sw.Close()
			return err
		}
		return sw.Close()
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close saves pending changes and releases the page store. The cache is
// closed even when the final save fails; that error is returned.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}

	var saveErr error
	if c.state == StateDirty {
		if saveErr = c.save(); saveErr != nil {
			c.warn("cache_save", "", saveErr)
		}
	}
	closeErr := c.store.Close()
	c.releaseLock()

	c.dir.Clear()
	c.index.Clear()
	clear(c.positions)
	c.state = StateClosed
	return errors.Join(saveErr, closeErr)
}

func (c *Cache) releaseLock() {
	if c.lock == nil {
		return
	}
	if err := c.lock.Release(); err != nil {
		c.warn("cache_close", "", err)
	}
	c.lock = nil
}

func (c *Cache) warn(action, id string, err error) {
	c.log.WithFields(logging.CacheFields(action, id)).Warn(err.Error())
}
