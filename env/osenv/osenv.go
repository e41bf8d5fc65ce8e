// Package osenv provides the default Env: plain files under one
// directory, opened with os.OpenFile the way the teacher's
// storage.FileStorage does for its SequentialWriter/RandomAccessReader
// pair, minus the MANIFEST/CURRENT bookkeeping that has no plfsio
// equivalent.
package osenv

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pdlfs/plfsio/env"
	goerrors "github.com/pdlfs/plfsio/errors"
)

type osEnv struct {
	dir  string
	pool env.ThreadPool
}

// Open returns an Env rooted at dir, which must already exist. pool
// may be nil, in which case ThreadPool() also returns nil and the
// writer falls back to its own scheduling rule.
func Open(dir string, pool env.ThreadPool) (env.Env, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, goerrors.WithIoError(err)
	}
	if !info.IsDir() {
		return nil, goerrors.Newf(goerrors.InvalidArgument, "osenv: %s is not a directory", dir)
	}
	return &osEnv{dir: dir, pool: pool}, nil
}

func (e *osEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *osEnv) Create(name string) (env.Appender, error) {
	f, err := os.OpenFile(e.path(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, goerrors.WithIoError(err)
	}
	return &osAppender{f: f}, nil
}

func (e *osEnv) Open(name string) (env.ReaderAt, error) {
	f, err := os.OpenFile(e.path(name), os.O_RDONLY, 0644)
	if err != nil {
		return nil, goerrors.WithIoError(err)
	}
	return &osReaderAt{f: f}, nil
}

func (e *osEnv) Remove(name string) error {
	if err := os.Remove(e.path(name)); err != nil {
		return goerrors.WithIoError(err)
	}
	return nil
}

func (e *osEnv) ThreadPool() env.ThreadPool {
	return e.pool
}

type osAppender struct {
	f *os.File
}

func (a *osAppender) Append(p []byte) (int, error) {
	n, err := a.f.Write(p)
	if err != nil {
		return n, goerrors.WithIoError(err)
	}
	return n, nil
}

func (a *osAppender) Flush() error { return nil }

func (a *osAppender) Sync() error {
	if err := a.f.Sync(); err != nil {
		return goerrors.WithIoError(err)
	}
	return nil
}

func (a *osAppender) Close() error {
	if err := a.f.Close(); err != nil {
		return goerrors.WithIoError(err)
	}
	return nil
}

type osReaderAt struct {
	f *os.File
}

func (r *osReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, goerrors.WithIoError(err)
	}
	return n, err
}

func (r *osReaderAt) Size() (int64, error) {
	info, err := r.f.Stat()
	if err != nil {
		return 0, goerrors.WithIoError(err)
	}
	return info.Size(), nil
}

func (r *osReaderAt) Close() error {
	if err := r.f.Close(); err != nil {
		return goerrors.WithIoError(err)
	}
	return nil
}
