// Package pagestore implements the append-only paged record store of the
// tile cache.
//
// Records are appended to the current page file until the next record no
// longer fits, at which point a new page is allocated; a record is never
// split across pages and is never modified once written. Every record starts
// with its own total length, so a page can be walked record by record and a
// partially written tail is detected instead of misread.
package pagestore
