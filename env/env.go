// Package env defines the storage capability surface the write and
// read paths need: appending to a named object, random-access reads
// of one, and a pool to run compaction tasks on. It plays the role the
// teacher's storage.Storage interface plays for the LSM tree, cut down
// to the append-only, no-rename, no-manifest subset plfsio needs.
package env

// Appender is an append-only destination: a log sink's physical file.
type Appender interface {
	Append(p []byte) (n int, err error)
	Flush() error
	Sync() error
	Close() error
}

// ReaderAt is a random-access source: one physical file behind a
// LogSource, or the reader's footer/filter/index blob.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
	Size() (int64, error)
	Close() error
}

// ThreadPool runs compaction tasks. Schedule never blocks the caller
// past acquiring a worker slot; tasks run in submission order per
// worker but may interleave across workers.
type ThreadPool interface {
	Schedule(task func())
	Close()
}

// Env is the storage + scheduling backend a Writer or Reader runs
// against. ThreadPool may return nil; a writer with no pool from either
// its options or its Env runs compactions inline on the calling
// goroutine.
type Env interface {
	Create(name string) (Appender, error)
	Open(name string) (ReaderAt, error)
	Remove(name string) error
	ThreadPool() ThreadPool
}
