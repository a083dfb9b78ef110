package tilecache

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/wayfinder/tilecache/internal/storage"
)

// Snapshot artifacts inside the cache root.
const (
	HeaderFile    = "cache.hdr"
	DirectoryFile = "cache.dir"
	IndexFile     = "cache.qt"
)

var errNoHeader = errors.New("cache header missing")

// header is the commit marker of a snapshot: written last by Save.
type header struct {
	Page    uint8
	Version int32
}

func writeHeader(fsys afero.Fs, h header) error {
	return storage.WriteFileAtomic(fsys, HeaderFile, func(w io.Writer) error {
		bw := storage.NewBinaryWriter(w)
		bw.Uint8(h.Page)
		bw.Int32(h.Version)
		return bw.Flush()
	})
}

func readHeader(fsys afero.Fs) (header, error) {
	ok, err := storage.Exists(fsys, HeaderFile)
	if err != nil {
		return header{}, err
	}
	if !ok {
		return header{}, errNoHeader
	}
	f, err := fsys.Open(HeaderFile)
	if err != nil {
		return header{}, err
	}
	defer f.Close()

	br := storage.NewBinaryReader(f)
	h := header{Page: br.Uint8(), Version: br.Int32()}
	if err := br.Err(); err != nil {
		return header{}, fmt.Errorf("read %s: %w", HeaderFile, err)
	}
	return h, nil
}
