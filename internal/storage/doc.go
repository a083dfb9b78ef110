// Package storage wraps the host persistence layer used by the tile cache.
// Every file the cache touches (page files, snapshot artifacts, the writer
// lock) goes through an afero.Fs rooted at the cache directory, so the same
// code runs against the OS file system in production and an in-memory file
// system in tests. The package also owns the binary primitives shared by the
// snapshot codecs and the optional zstd framing of snapshot files.
package storage
