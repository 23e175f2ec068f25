// Package storage defines the small backend interface the engine reads
// and writes through, plus a local filesystem implementation. tsmfile
// and seriesfile are written against Backend/File, never against os
// directly, so an mmap or object-store backend can be substituted
// without touching either package.
package storage

import "io"

// Stat reports a file's size.
type Stat struct {
	Size int64
}

// File is the handle a Backend hands back for an opened path. Readers
// need both random access (ReadAt, for index probes and block reads)
// and sequential access (Read/Seek, for segment scans); writers only
// ever append.
type File interface {
	io.ReaderAt
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	Stat() (Stat, error)
	Sync() error
}

// Backend is the storage surface the engine consumes. All
// implementations (local filesystem, mmap, object storage) must behave
// identically under this interface.
type Backend interface {
	// Open opens an existing file for reading and writing. The handle
	// starts at offset 0, so a Write overwrites from the start of the
	// file unless the caller seeks first.
	Open(path string) (File, error)
	// Create creates (or truncates) a file for writing.
	Create(path string) (File, error)
	// Stat reports size without opening the file.
	Stat(path string) (Stat, error)
	// Delete removes a file. Deleting a missing file is not an error.
	Delete(path string) error
	// Rename moves a file, replacing the destination if it exists.
	Rename(from, to string) error
	// List returns the names of entries directly inside dir.
	List(dir string) ([]string, error)
	// CreateDir ensures dir and its parents exist.
	CreateDir(dir string) error
}
