package pagestore

import (
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, fsys afero.Fs, opts Options) *Store {
	t.Helper()
	s := New(fsys, opts)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })
	return s
}

func encode(t *testing.T, name string, n int) []byte {
	t.Helper()
	data, err := EncodeRecord(SingleRecord{Name: name, Payload: payload(n, byte(len(name)))})
	require.NoError(t, err)
	return data
}

func TestAppendAndRead(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), Options{})
	assert.Equal(t, 0, s.PageNumber())
	assert.Equal(t, int64(0), s.CurrentOffset())

	first := encode(t, "btat_petrolstation.png", 500)
	loc, err := s.Append(first)
	require.NoError(t, err)
	assert.Equal(t, Location{Page: 0, Offset: 0}, loc)
	assert.Equal(t, int64(535), s.CurrentOffset())

	second := encode(t, "b", 10)
	loc2, err := s.Append(second)
	require.NoError(t, err)
	assert.Equal(t, Location{Page: 0, Offset: 535}, loc2)

	rec, err := s.ReadRecord(loc)
	require.NoError(t, err)
	assert.Equal(t, "btat_petrolstation.png", rec.(SingleRecord).Name)

	stream, err := s.OpenReadStream(0, 535)
	require.NoError(t, err)
	defer stream.Close()
	raw, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, second, raw)
}

func TestAppendAllocatesNextPage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := openStore(t, fsys, Options{PageSize: 1024})

	rec := encode(t, "a", 600)
	loc, err := s.Append(rec)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), loc.Page)

	loc, err = s.Append(rec)
	require.NoError(t, err)
	assert.Equal(t, Location{Page: 1, Offset: 0}, loc)
	assert.Equal(t, 1, s.PageNumber())
	assert.Equal(t, int64(len(rec)), s.CurrentOffset())

	pages, err := s.Pages()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, pages)

	info, err := fsys.Stat(PageName(0))
	require.NoError(t, err)
	assert.Equal(t, int64(len(rec)), info.Size(), "earlier page must not be padded or modified")
}

func TestAppendLimits(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), Options{PageSize: 1024, MaxPages: 2})

	_, err := s.Append(make([]byte, 1025))
	require.ErrorIs(t, err, ErrRecordTooLarge)

	rec := encode(t, "a", 900)
	_, err = s.Append(rec)
	require.NoError(t, err)
	_, err = s.Append(rec)
	require.NoError(t, err)
	_, err = s.Append(rec)
	require.ErrorIs(t, err, ErrStoreFull)
}

func TestOpenReadStreamErrors(t *testing.T) {
	s := openStore(t, afero.NewMemMapFs(), Options{})
	_, err := s.Append(encode(t, "a", 10))
	require.NoError(t, err)

	_, err = s.OpenReadStream(3, 0)
	require.ErrorIs(t, err, ErrPageNotFound)
	_, err = s.OpenReadStream(0, 10_000)
	require.ErrorIs(t, err, ErrOffsetOutOfRange)
	_, err = s.OpenReadStream(0, -1)
	require.ErrorIs(t, err, ErrOffsetOutOfRange)
}

func TestReopenContinuesAndDropsPartialTail(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, Options{PageSize: 4096})
	require.NoError(t, s.Open())
	rec := encode(t, "tile", 100)
	_, err := s.Append(rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// a write interrupted after half a record
	f, err := fsys.OpenFile(PageName(0), os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(rec[:50], int64(len(rec)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	scans, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.True(t, scans[0].Corrupt)
	assert.Len(t, scans[0].Records, 1)
	assert.Equal(t, int64(50), scans[0].DeadTail())

	reopened := openStore(t, fsys, Options{PageSize: 4096})
	assert.Equal(t, int64(len(rec)), reopened.CurrentOffset())
	loc, err := reopened.Append(rec)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(rec)), loc.Offset)

	scans, err = reopened.Scan()
	require.NoError(t, err)
	assert.False(t, scans[0].Corrupt)
	assert.Len(t, scans[0].Records, 2)
}

func TestResetRemovesPages(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := openStore(t, fsys, Options{PageSize: 1024})
	rec := encode(t, "a", 900)
	for i := 0; i < 3; i++ {
		_, err := s.Append(rec)
		require.NoError(t, err)
	}
	require.Equal(t, 2, s.PageNumber())

	require.NoError(t, s.Reset())
	assert.True(t, s.IsOpen())
	assert.Equal(t, 0, s.PageNumber())
	assert.Equal(t, int64(0), s.CurrentOffset())

	pages, err := s.Pages()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, pages)
}

func TestClosedStore(t *testing.T) {
	s := New(afero.NewMemMapFs(), Options{})
	_, err := s.Append([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
}

func TestReopenWithSmallerPageSizeKeepsRecords(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, Options{PageSize: 4096})
	require.NoError(t, s.Open())
	rec := encode(t, "tile", 900)
	var locs []Location
	for i := 0; i < 3; i++ {
		loc, err := s.Append(rec)
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	require.NoError(t, s.Close())
	written := int64(3 * len(rec))

	reopened := openStore(t, fsys, Options{PageSize: 1024})
	assert.Equal(t, 0, reopened.PageNumber())
	assert.Equal(t, written, reopened.CurrentOffset())

	info, err := fsys.Stat(PageName(0))
	require.NoError(t, err)
	assert.Equal(t, written, info.Size())

	for _, loc := range locs {
		got, err := reopened.ReadRecord(loc)
		require.NoError(t, err)
		assert.Equal(t, "tile", got.(SingleRecord).Name)
	}

	scans, err := reopened.Scan()
	require.NoError(t, err)
	assert.False(t, scans[0].Corrupt)
	assert.Len(t, scans[0].Records, 3)

	// the oversized page is full under the new size
	loc, err := reopened.Append(rec)
	require.NoError(t, err)
	assert.Equal(t, Location{Page: 1, Offset: 0}, loc)

	size, err := reopened.PageLen(0)
	require.NoError(t, err)
	assert.Equal(t, written, size)
	_, err = reopened.PageLen(7)
	require.ErrorIs(t, err, ErrPageNotFound)
}
