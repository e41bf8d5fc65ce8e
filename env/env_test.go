package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// memAppender is a minimal in-memory Appender used to test the
// decorators without touching the filesystem.
type memAppender struct {
	buf     []byte
	closed  bool
	flushes int
	syncs   int
}

func (m *memAppender) Append(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	return len(p), nil
}
func (m *memAppender) Flush() error { m.flushes++; return nil }
func (m *memAppender) Sync() error  { m.syncs++; return nil }
func (m *memAppender) Close() error { m.closed = true; return nil }

func TestBuffered_SmallWritesCoalesce(t *testing.T) {
	dst := &memAppender{}
	b := NewBuffered(dst, 16)

	n, err := b.Append([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Empty(t, dst.buf, "small write should stay buffered")

	require.NoError(t, b.Flush())
	require.Equal(t, []byte("abc"), dst.buf)
}

func TestBuffered_OverflowFlushesAndPassesThrough(t *testing.T) {
	dst := &memAppender{}
	b := NewBuffered(dst, 4)

	_, err := b.Append([]byte("ab"))
	require.NoError(t, err)
	_, err = b.Append([]byte("cdefghij"))
	require.NoError(t, err)

	require.NoError(t, b.Flush())
	require.Equal(t, []byte("abcdefghij"), dst.buf)
}

func TestBuffered_ZeroSizePassesThrough(t *testing.T) {
	dst := &memAppender{}
	b := NewBuffered(dst, 0)

	_, err := b.Append([]byte("xyz"))
	require.NoError(t, err)
	require.Equal(t, []byte("xyz"), dst.buf)
}

func TestBuffered_SyncFlushesFirst(t *testing.T) {
	dst := &memAppender{}
	b := NewBuffered(dst, 16)
	_, _ = b.Append([]byte("abc"))

	require.NoError(t, b.Sync())
	require.Equal(t, []byte("abc"), dst.buf)
	require.Equal(t, 1, dst.syncs)
}

type memEnv struct {
	files map[string]*memAppender
}

func newMemEnv() *memEnv { return &memEnv{files: map[string]*memAppender{}} }

func (e *memEnv) Create(name string) (Appender, error) {
	a := &memAppender{}
	e.files[name] = a
	return a, nil
}
func (e *memEnv) Open(name string) (ReaderAt, error) { return nil, nil }
func (e *memEnv) Remove(name string) error           { delete(e.files, name); return nil }
func (e *memEnv) ThreadPool() ThreadPool             { return nil }

func TestRolling_RotateOpensNextNumberedFile(t *testing.T) {
	me := newMemEnv()
	r, err := NewRolling(me, "log")
	require.NoError(t, err)
	require.Equal(t, 0, r.Index())

	_, err = r.Append([]byte("first"))
	require.NoError(t, err)

	require.NoError(t, r.Rotate(false))
	require.Equal(t, 1, r.Index())

	_, err = r.Append([]byte("second"))
	require.NoError(t, err)

	require.Equal(t, []byte("first"), me.files["log.dat.0"].buf)
	require.Equal(t, []byte("second"), me.files["log.dat.1"].buf)
	require.True(t, me.files["log.dat.0"].closed)
}

func TestBoundedPool_RunsAllTasks(t *testing.T) {
	p := NewBoundedPool(3)
	defer p.Close()

	done := make(chan int, 10)
	for i := 0; i < 10; i++ {
		i := i
		p.Schedule(func() { done <- i })
	}

	seen := map[int]bool{}
	for i := 0; i < 10; i++ {
		seen[<-done] = true
	}
	require.Len(t, seen, 10)
}

func TestInlinePool_RunsSynchronously(t *testing.T) {
	var p InlinePool
	ran := false
	p.Schedule(func() { ran = true })
	require.True(t, ran)
}
