package plfsio

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdlfs/plfsio/block"
	"github.com/pdlfs/plfsio/env"
	"github.com/pdlfs/plfsio/env/osenv"
	"github.com/pdlfs/plfsio/errors"
	"github.com/pdlfs/plfsio/filter"
	"github.com/pdlfs/plfsio/logio"
)

// smallOptions returns an Options rooted at a fresh temp directory
// with small thresholds so a handful of Adds is enough to exercise
// multiple buffer rotations.
func smallOptions(t *testing.T) Options {
	e, err := osenv.Open(t.TempDir(), nil)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Env = e
	opts.N = 3
	opts.TotalMemtableBudget = 4096
	opts.MemtableUtil = 1.0
	opts.BlockSize = 256
	return opts
}

func TestWriterReader_RoundTrip(t *testing.T) {
	opts := smallOptions(t)

	w, err := Open(opts, "tbl")
	require.NoError(t, err)

	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		v := []byte(fmt.Sprintf("value-%04d", i))
		require.NoError(t, w.Add(k, v))
		keys = append(keys, k)
	}
	require.NoError(t, w.Finish())

	r, err := OpenReader(opts, "tbl")
	require.NoError(t, err)
	defer r.Close()

	for i, k := range keys {
		v, err := r.Get(k)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%04d", i), string(v))
	}

	_, err = r.Get([]byte("absent-key"))
	require.True(t, errors.Is(err, errors.NotFound))
}

func TestWriterReader_TicketOrderMatchesCallerOrder(t *testing.T) {
	opts := smallOptions(t)
	opts.AllowEnvThreads = false

	w, err := Open(opts, "tbl")
	require.NoError(t, err)

	// Filling each buffer past its threshold forces a rotation per
	// batch of Adds; the offsets recorded by each compaction must land
	// in caller order regardless of how compactions are scheduled.
	batches := 6
	perBatch := 40
	for b := 0; b < batches; b++ {
		for i := 0; i < perBatch; i++ {
			k := []byte(fmt.Sprintf("b%02d-k%03d", b, i))
			v := []byte(fmt.Sprintf("b%02d-v%03d", b, i))
			require.NoError(t, w.Add(k, v))
		}
	}
	require.NoError(t, w.Finish())

	r, err := OpenReader(opts, "tbl")
	require.NoError(t, err)
	defer r.Close()

	for b := 0; b < batches; b++ {
		for i := 0; i < perBatch; i++ {
			k := []byte(fmt.Sprintf("b%02d-k%03d", b, i))
			v, err := r.Get(k)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("b%02d-v%03d", b, i), string(v))
		}
	}
}

func TestWriterReader_MostRecentAddWinsAcrossBuffers(t *testing.T) {
	opts := smallOptions(t)

	w, err := Open(opts, "tbl")
	require.NoError(t, err)

	require.NoError(t, w.Add([]byte("dup"), []byte("old")))
	// Pad the first buffer full so it rotates and compacts on its own.
	for i := 0; i < 60; i++ {
		require.NoError(t, w.Add([]byte(fmt.Sprintf("pad-%03d", i)), []byte("x")))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Wait())

	// A later buffer writes a fresh value for the same key.
	require.NoError(t, w.Add([]byte("dup"), []byte("new")))
	require.NoError(t, w.Finish())

	r, err := OpenReader(opts, "tbl")
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Get([]byte("dup"))
	require.NoError(t, err)
	require.Equal(t, "new", string(v))
}

// TestWriterReader_RotationMidStreamRoundTrips writes with
// RotationExtCtrl, rotates to a new physical file between batches,
// and confirms the public Reader can still serve every key: the log
// is never a single <prefix>.dat once rotation is in play (see
// env.Rolling), so Reader has to enumerate every numbered physical
// file the same way logio.LogSource does.
func TestWriterReader_RotationMidStreamRoundTrips(t *testing.T) {
	opts := smallOptions(t)
	opts.Rotation = logio.RotationExtCtrl

	w, err := Open(opts, "rot")
	require.NoError(t, err)

	var keys, values []string
	addBatch := func(tag string) {
		for i := 0; i < 40; i++ {
			k := fmt.Sprintf("%s-%04d", tag, i)
			v := fmt.Sprintf("v-%s-%04d", tag, i)
			require.NoError(t, w.Add([]byte(k), []byte(v)))
			keys = append(keys, k)
			values = append(values, v)
		}
	}

	addBatch("r0")
	require.NoError(t, w.Flush())
	require.NoError(t, w.Wait())
	require.NoError(t, w.Rotate(false))

	addBatch("r1")
	require.NoError(t, w.Flush())
	require.NoError(t, w.Wait())
	require.NoError(t, w.Rotate(false))

	addBatch("r2")

	numRotas := w.NumRotas()
	require.Equal(t, 2, numRotas)
	require.NoError(t, w.Finish())

	opts.NumRotas = numRotas
	r, err := OpenReader(opts, "rot")
	require.NoError(t, err)
	defer r.Close()

	for i, k := range keys {
		v, err := r.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, values[i], string(v))
	}
}

func TestWriter_StickyBackgroundErrorFailsSubsequentAdds(t *testing.T) {
	opts := smallOptions(t)

	w, err := Open(opts, "tbl")
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("a"), []byte("1")))

	w.mu.Lock()
	w.bgStatus = errors.Newf(errors.IoError, "injected failure")
	w.cond.Broadcast()
	w.mu.Unlock()

	err = w.Add([]byte("b"), []byte("2"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.IoError))
}

// TestWriterReader_ConcurrentProducersThroughBoundedPool drives two
// goroutines issuing interleaved Add calls against a Writer whose
// compactions run on a real env.BoundedPool, exercising the pooled
// dispatch path in scheduleCompaction that every other test in this
// file bypasses by leaving CompactionPool nil.
func TestWriterReader_ConcurrentProducersThroughBoundedPool(t *testing.T) {
	opts := smallOptions(t)
	pool := env.NewBoundedPool(2)
	opts.CompactionPool = pool

	w, err := Open(opts, "tbl")
	require.NoError(t, err)

	const producers = 2
	const perProducer = 1500

	var wg sync.WaitGroup
	errc := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				k := []byte(fmt.Sprintf("p%02d-k%05d", p, i))
				v := []byte(fmt.Sprintf("p%02d-v%05d", p, i))
				if err := w.Add(k, v); err != nil {
					errc <- err
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	require.NoError(t, w.Finish())
	pool.Close()

	r, err := OpenReader(opts, "tbl")
	require.NoError(t, err)
	defer r.Close()

	for p := 0; p < producers; p++ {
		for i := 0; i < perProducer; i++ {
			k := []byte(fmt.Sprintf("p%02d-k%05d", p, i))
			v, err := r.Get(k)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("p%02d-v%05d", p, i), string(v))
		}
	}
}

// failingAppender fails every Append from the failAt'th call onward
// (1-indexed), so a test can force a real compaction write to fail
// instead of poking bgStatus directly.
type failingAppender struct {
	buf     []byte
	failAt  int
	appends int
	failErr error
	closed  bool
}

func (a *failingAppender) Append(p []byte) (int, error) {
	a.appends++
	if a.appends >= a.failAt {
		return 0, a.failErr
	}
	a.buf = append(a.buf, p...)
	return len(p), nil
}

func (a *failingAppender) Flush() error { return nil }
func (a *failingAppender) Sync() error  { return nil }
func (a *failingAppender) Close() error { a.closed = true; return nil }

type failingEnv struct {
	appender *failingAppender
}

func (e *failingEnv) Create(name string) (env.Appender, error) { return e.appender, nil }
func (e *failingEnv) Open(name string) (env.ReaderAt, error) {
	return nil, errors.Newf(errors.IoError, "failingEnv: open unsupported")
}
func (e *failingEnv) Remove(name string) error   { return nil }
func (e *failingEnv) ThreadPool() env.ThreadPool { return nil }

// TestWriter_SinkWriteFailurePropagatesAndClosesLog drives a genuine
// IoError out of a compaction's sink.Lwrite, through
// recordBackgroundErrorLocked, to a subsequent Add and to Finish,
// checking the underlying file is still closed despite the failure.
func TestWriter_SinkWriteFailurePropagatesAndClosesLog(t *testing.T) {
	fa := &failingAppender{failAt: 1, failErr: errors.Newf(errors.IoError, "injected disk failure")}
	fe := &failingEnv{appender: fa}

	opts := DefaultOptions()
	opts.Env = fe
	opts.N = 2
	opts.TotalMemtableBudget = 4096
	opts.MemtableUtil = 1.0
	opts.BlockSize = 256

	w, err := Open(opts, "tbl")
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("a"), []byte("1")))

	// Rotates the lone non-empty buffer; inline compaction runs to
	// completion before Flush returns, so its sink.Lwrite has already
	// failed and latched bgStatus by the time Wait is checked.
	require.NoError(t, w.Flush())

	waitErr := w.Wait()
	require.Error(t, waitErr)
	require.True(t, errors.Is(waitErr, errors.IoError))

	addErr := w.Add([]byte("b"), []byte("2"))
	require.Error(t, addErr)
	require.True(t, errors.Is(addErr, errors.IoError))

	finishErr := w.Finish()
	require.Error(t, finishErr)
	require.True(t, errors.Is(finishErr, errors.IoError))
	require.True(t, fa.closed, "Finish must close the log even after a background failure")
}

func TestWriter_AddAfterFinishIsDisconnected(t *testing.T) {
	opts := smallOptions(t)

	w, err := Open(opts, "tbl")
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	err = w.Add([]byte("a"), []byte("1"))
	require.True(t, errors.Is(err, errors.Disconnected))
}

func TestWriterReader_CuckooFilterNoFalseNegatives(t *testing.T) {
	opts := smallOptions(t)
	opts.Filter = filter.Cuckoo

	w, err := Open(opts, "tbl")
	require.NoError(t, err)

	n := 500
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("ck-%05d", i))
		require.NoError(t, w.Add(k, []byte{byte(i)}))
	}
	require.NoError(t, w.Finish())

	r, err := OpenReader(opts, "tbl")
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("ck-%05d", i))
		v, err := r.Get(k)
		require.NoError(t, err, "no false negatives expected for admitted keys")
		require.Equal(t, []byte{byte(i)}, v)
	}
}

func TestMemBuffer_UniqueKeyModeCollapsesDuplicates(t *testing.T) {
	opts := DefaultOptions()
	opts.LevelDBCompatible = true
	opts.Mode = UniqueKey
	opts.Filter = filter.NoFilter

	b := newMemBuffer(&opts, 1<<20)
	b.Add([]byte("k"), []byte("first"))
	b.Add([]byte("k"), []byte("second"))

	records := b.orderedRecords(opts.Comparer)
	require.Len(t, records, 1)
	require.Equal(t, "second", string(records[0].value))
}

func TestMemBuffer_MultiMapModeKeepsDuplicates(t *testing.T) {
	opts := DefaultOptions()
	opts.LevelDBCompatible = true
	opts.Mode = MultiMap
	opts.Filter = filter.NoFilter

	b := newMemBuffer(&opts, 1<<20)
	b.Add([]byte("k"), []byte("first"))
	b.Add([]byte("k"), []byte("second"))

	records := b.orderedRecords(opts.Comparer)
	require.Len(t, records, 2)
}

func TestMemBuffer_BuildProducesReadableBlockAndFilter(t *testing.T) {
	opts := DefaultOptions()
	opts.Filter = filter.Bloom

	b := newMemBuffer(&opts, 1<<20)
	b.Add([]byte("alpha"), []byte("1"))
	b.Add([]byte("beta"), []byte("2"))

	out, err := b.build(&opts, 0)
	require.NoError(t, err)
	require.NotEmpty(t, out.block)
	require.NotEmpty(t, out.filter)

	v, found, err := block.Get(out.block, opts.blockMode(), false, []byte("beta"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), v)

	require.True(t, filter.KeyMayMatch(filter.Bloom, opts.CuckooSeed, []byte("alpha"), out.filter))
}

func TestMemBuffer_EmptyBuildIsNoOp(t *testing.T) {
	opts := DefaultOptions()
	b := newMemBuffer(&opts, 1<<20)

	out, err := b.build(&opts, 0)
	require.NoError(t, err)
	require.Nil(t, out.block)
	require.Nil(t, out.filter)
}
