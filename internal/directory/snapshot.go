package directory

import (
	"errors"
	"fmt"
	"io"

	"github.com/wayfinder/tilecache/internal/storage"
)

// ErrBadSnapshot is returned when a directory snapshot cannot be decoded.
var ErrBadSnapshot = errors.New("invalid directory snapshot")

// WriteSnapshot encodes the directory as
//
//	count int32
//	count × { page uint8, offset uint32, id uint16-length-prefixed }
func (d *Directory) WriteSnapshot(w io.Writer) error {
	bw := storage.NewBinaryWriter(w)
	bw.Int32(int32(d.order.Len()))
	d.Each(func(id string, e Entry) bool {
		bw.Uint8(e.Page)
		bw.Uint32(e.Offset)
		bw.String16(id)
		return bw.Err() == nil
	})
	return bw.Flush()
}

// ReadSnapshot decodes a snapshot into a new Directory, preserving order.
func ReadSnapshot(r io.Reader) (*Directory, error) {
	br := storage.NewBinaryReader(r)
	count := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrBadSnapshot, count)
	}

	d := New()
	for i := int32(0); i < count; i++ {
		e := Entry{Page: br.Uint8(), Offset: br.Uint32()}
		id := br.String16()
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrBadSnapshot, i, err)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d has an empty identifier", ErrBadSnapshot, i)
		}
		d.Put(id, e)
	}
	return d, nil
}
