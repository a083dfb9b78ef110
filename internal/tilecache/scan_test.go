package tilecache

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfinder/tilecache/internal/pagestore"
)

func TestScanReportsOrphanedRecords(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := openCache(t, fsys, 1)
	writeTile(t, c, 1, 1)
	require.NoError(t, c.WriteEntry(WriteRequest{Parts: [][]byte{bytesOf(100, 1)}, Identifiers: []Identifier{Named("keep")}}))
	require.True(t, c.Remove("G+1aA7V0Y"))

	report, err := c.Scan()
	require.NoError(t, err)
	require.Len(t, report.Pages, 1)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 1, report.Live)
	assert.Equal(t, 1, report.Orphaned)
	assert.Equal(t, int64(pagestore.MultiLen(2, 1000)), report.DeadBytes)
	assert.Zero(t, report.Dangling)
	assert.False(t, report.Pages[0].Corrupt)
}

func TestScanReportsCorruptTail(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := openCache(t, fsys, 1)
	require.NoError(t, c.WriteEntry(WriteRequest{Parts: [][]byte{bytesOf(10, 1)}, Identifiers: []Identifier{Named("a")}}))
	end := c.Stats().Offset

	f, err := fsys.OpenFile(pagestore.PageName(0), os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0, 0, 0, 1, 0, 0, 1, 9, 9}, end)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := c.Scan()
	require.NoError(t, err)
	page := report.Pages[0]
	assert.True(t, page.Corrupt)
	assert.Equal(t, end, page.CorruptOffset)
	assert.Equal(t, int64(9), page.DeadBytes)
	assert.Equal(t, 1, page.Live)
}
