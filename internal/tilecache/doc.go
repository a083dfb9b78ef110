// Package tilecache is the on-device map tile cache.
//
// A Cache combines three parts it owns exclusively: an append-only page
// store holding the records, a directory resolving identifiers to record
// locations, and a quad tree indexing positional identifiers. Save persists
// the directory and the quad tree next to a small header carrying the page
// number and the format version; Open restores from those artifacts and
// discards the whole cache when the stored format version differs from the
// configured one.
//
// Every method is serialized by an internal mutex, so one Cache can be shared
// between goroutines while keeping a single logical writer.
package tilecache
