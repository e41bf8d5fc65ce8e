package plfsio

import (
	"encoding/binary"
	"sync"

	"github.com/pdlfs/plfsio/block"
	"github.com/pdlfs/plfsio/errors"
	"github.com/pdlfs/plfsio/filter"
	"github.com/pdlfs/plfsio/logger"
	"github.com/pdlfs/plfsio/logio"
	"github.com/pdlfs/plfsio/metrics"
)

// Writer is the double-buffered compaction engine: Add fills one
// active MemBuffer in the foreground while background workers drain
// the others, building a block + filter stripe and appending to the
// log in strict compaction-ticket order. Grounded on the teacher's
// db_impl.go mutex + sync.Cond pattern
// (backgroundWorkFinishedSignal/recordBackgroundError/
// MaybeScheduleCompaction), generalized from single-flight compaction
// to N interchangeable buffers.
type Writer struct {
	opts Options

	mu   sync.Mutex
	cond *sync.Cond

	sink  *logio.LogSink
	stats *metrics.IoStats

	free   []*MemBuffer
	active *MemBuffer

	numBgCompactions    int
	nextTicket          uint32
	lastCommittedTicket uint32
	bgStatus            error
	finished            bool

	filterStream []byte
	indexStream  []byte
}

// Open creates a fresh Writer over a new log named prefix under
// opts.Env. opts.Filter == Bitmap is rejected with InvalidArgument
// since no bitmap codec exists in filter/ (see filter.NewBuilder).
func Open(opts Options, prefix string) (*Writer, error) {
	if opts.Env == nil {
		return nil, errors.Newf(errors.InvalidArgument, "plfsio: options missing Env")
	}
	if opts.Filter != filter.NoFilter {
		if _, err := filter.NewBuilder(opts.Filter, opts.filterOptions()); err != nil {
			return nil, err
		}
	}
	if opts.N < 2 {
		opts.N = 2
	}
	if opts.Comparer == nil {
		opts.Comparer = defaultOptionsComparer()
	}
	if opts.LogDir != "" {
		logger.Setup(logger.DefaultSettings(opts.LogDir))
	}

	var stats *metrics.IoStats
	if opts.MeasureWrites {
		stats = metrics.NewIoStats(opts.Registerer, opts.Name)
	}

	sink, err := logio.Open(logio.SinkOptions{
		MaxBuf:   opts.MaxSinkBuf,
		Rotation: opts.Rotation,
		Type:     logio.DataLog,
		Stats:    stats,
		Env:      opts.Env,
	}, prefix)
	if err != nil {
		return nil, err
	}

	threshold := opts.bufferThreshold()
	w := &Writer{
		opts:  opts,
		sink:  sink,
		stats: stats,
	}
	w.cond = sync.NewCond(&w.mu)

	buffers := make([]*MemBuffer, opts.N)
	for i := range buffers {
		buffers[i] = newMemBuffer(&w.opts, threshold)
	}
	w.active = buffers[0]
	w.free = buffers[1:]

	logger.Infof("plfsio: %s: opened writer with %d buffers, threshold %d bytes each", opts.Name, opts.N, threshold)
	return w, nil
}

func defaultOptionsComparer() interface {
	Compare(a, b []byte) int
	Name() string
} {
	return DefaultOptions().Comparer
}

// Add buffers one record, rotating the active buffer if it is now
// full. Fails with the sticky background error if a prior compaction
// has failed, or Disconnected if Finish has already run.
func (w *Writer) Add(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return errors.Newf(errors.Disconnected, "plfsio: writer already finished")
	}
	if w.bgStatus != nil {
		return w.bgStatus
	}

	w.active.Add(key, value)
	if w.active.Full() {
		return w.rotateBufferLocked()
	}
	return nil
}

// Flush rotates the active buffer if non-empty without waiting for
// the resulting compaction to complete.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return errors.Newf(errors.Disconnected, "plfsio: writer already finished")
	}
	if !w.active.Empty() {
		return w.rotateBufferLocked()
	}
	return nil
}

// EpochFlush aliases Flush: the original's epoch boundaries are a
// partitioning concept outside this module's scope, so all it
// preserves here is the flush-without-waiting behavior.
func (w *Writer) EpochFlush() error { return w.Flush() }

// Sync flushes the active buffer, waits for every outstanding
// compaction to drain, and forces the log to durable storage. This is
// the only point at which a device-level sync happens.
func (w *Writer) Sync() error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return errors.Newf(errors.Disconnected, "plfsio: writer already finished")
	}
	if !w.active.Empty() {
		if err := w.rotateBufferLocked(); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	for w.numBgCompactions > 0 {
		w.cond.Wait()
	}
	if w.bgStatus != nil {
		err := w.bgStatus
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	if err := w.sink.Lsync(); err != nil {
		w.mu.Lock()
		w.recordBackgroundErrorLocked(err)
		w.mu.Unlock()
		return err
	}
	return nil
}

// Wait blocks until no compaction is outstanding and returns the
// sticky background error, if any.
func (w *Writer) Wait() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numBgCompactions > 0 {
		w.cond.Wait()
	}
	return w.bgStatus
}

// rotateBufferLocked assigns the active buffer a compaction ticket
// and schedules it, back-pressuring the caller when every other
// buffer is still outstanding. Requires mu held.
func (w *Writer) rotateBufferLocked() error {
	for len(w.free) == 0 {
		if w.bgStatus != nil {
			return w.bgStatus
		}
		w.cond.Wait()
	}
	if w.bgStatus != nil {
		return w.bgStatus
	}

	w.nextTicket++
	ticket := w.nextTicket
	buf := w.active

	w.active = w.free[len(w.free)-1]
	w.free = w.free[:len(w.free)-1]
	w.numBgCompactions++

	w.scheduleCompaction(ticket, buf)
	return nil
}

// scheduleCompaction dispatches buf's compaction. Like compact, it
// must be entered with w.mu held and leaves it held on return.
// rotateBufferLocked already holds w.mu when it calls this, so the
// inline path (no pool) can call compact directly.
//
// A bounded pool's Schedule can block its caller until a worker slot
// frees, unlike the original's unbounded env-thread-pool Schedule
// (bulkio.cc's ScheduleCompaction/BGWork, which only ever enqueues).
// Blocking there while holding w.mu would deadlock against every
// in-flight compaction, each of which needs w.mu to reach its own
// commit step — so w.mu is released for the dispatch call and
// reacquired once Schedule returns. The dispatched task itself runs on
// a goroutine that holds no lock of its own, so it must acquire w.mu
// before calling compact and release it after.
func (w *Writer) scheduleCompaction(ticket uint32, buf *MemBuffer) {
	pool := w.opts.CompactionPool
	if pool == nil && w.opts.AllowEnvThreads && w.opts.Env.ThreadPool() != nil {
		pool = w.opts.Env.ThreadPool()
	}
	if pool != nil {
		w.mu.Unlock()
		pool.Schedule(func() {
			w.mu.Lock()
			w.compact(ticket, buf)
			w.mu.Unlock()
		})
		w.mu.Lock()
		return
	}
	w.compact(ticket, buf)
}

// compact must be called with w.mu held and returns with w.mu held,
// matching the calling convention the original's BGWork/DoCompaction
// pair uses: it releases the lock immediately to build buf's block
// and filter stripe without holding it, reacquires only to wait for
// its ticket to become the next one to commit, releases again to
// append to the sink, then reacquires to fold the filter/index
// bookkeeping in and commit before returning.
func (w *Writer) compact(ticket uint32, buf *MemBuffer) {
	w.mu.Unlock()

	writeSize := 0
	if w.opts.BlockPadding {
		writeSize = w.opts.BlockSize
	}
	result, buildErr := buf.build(&w.opts, writeSize)

	w.mu.Lock()
	for w.lastCommittedTicket+1 != ticket {
		w.cond.Wait()
	}
	w.mu.Unlock()

	var appendErr error
	if buildErr != nil {
		appendErr = buildErr
	} else if len(result.block) > 0 {
		appendErr = w.sink.Lwrite(result.block)
	}

	w.mu.Lock()
	if appendErr == nil && w.bgStatus == nil {
		w.filterStream = append(w.filterStream, result.filter...)
		w.indexStream = appendIndexPair(w.indexStream, uint64(len(w.filterStream)), w.sink.Ltell())
	} else if appendErr != nil {
		w.recordBackgroundErrorLocked(appendErr)
	}

	w.lastCommittedTicket = ticket
	w.free = append(w.free, buf.Reset())
	w.numBgCompactions--
	w.cond.Broadcast()
}

func (w *Writer) recordBackgroundErrorLocked(err error) {
	if err == nil || w.bgStatus != nil {
		return
	}
	logger.Errorf("plfsio: %s: background compaction failed: %v", w.opts.Name, err)
	w.bgStatus = err
	w.cond.Broadcast()
}

// appendIndexPair appends one (filterEnd, dataEnd) index entry as two
// little-endian uint64s, matching spec.md §3's index stripe format.
func appendIndexPair(stream []byte, filterEnd, dataEnd uint64) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], filterEnd)
	binary.LittleEndian.PutUint64(buf[8:16], dataEnd)
	return append(stream, buf[:]...)
}

// Finish is the idempotent terminal operation: it rotates any
// non-empty active buffer, waits for drain, writes the filter stream,
// index stream (with its final sentinel entry), and footer, then
// closes the sink. It always attempts every step and returns the
// first error encountered.
func (w *Writer) Finish() error {
	w.mu.Lock()
	if w.finished {
		err := w.bgStatus
		w.mu.Unlock()
		return err
	}

	if !w.active.Empty() {
		_ = w.rotateBufferLocked()
	}
	for w.numBgCompactions > 0 {
		w.cond.Wait()
	}
	w.finished = true

	dataOff := w.sink.Ltell()
	w.indexStream = appendIndexPair(w.indexStream, uint64(len(w.filterStream)), dataOff)

	filterHandle := block.Handle{Offset: dataOff, Size: uint64(len(w.filterStream))}
	filterStream := w.filterStream
	bgErr := w.bgStatus
	w.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(bgErr)

	if len(filterStream) > 0 {
		record(w.sink.Lwrite(filterStream))
	}

	w.mu.Lock()
	indexOffset := w.sink.Ltell()
	indexStream := w.indexStream
	w.mu.Unlock()
	indexHandle := block.Handle{Offset: indexOffset, Size: uint64(len(indexStream))}

	if len(indexStream) > 0 {
		record(w.sink.Lwrite(indexStream))
	}

	footer := block.Footer{FilterHandle: filterHandle, IndexHandle: indexHandle}
	record(w.sink.Lwrite(footer.Encode()))

	record(w.sink.Lclose(true))

	w.mu.Lock()
	w.recordBackgroundErrorLocked(firstErr)
	result := w.bgStatus
	w.mu.Unlock()

	if result == nil {
		logger.Infof("plfsio: %s: finished, %d data bytes, %d filter bytes, %d index bytes",
			w.opts.Name, dataOff, len(filterStream), len(indexStream))
	}
	return result
}

// Rotate redirects the underlying log to a new numbered physical
// file, leaving the writer's logical offsets untouched. Requires the
// writer to have been opened with logio.RotationExtCtrl. It first
// waits for every outstanding compaction to drain, so it never runs
// while a compaction is appending to the sink.
func (w *Writer) Rotate(sync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.Newf(errors.Disconnected, "plfsio: writer already finished")
	}
	for w.numBgCompactions > 0 {
		w.cond.Wait()
	}
	return w.sink.Lrotate(sync)
}

// NumRotas returns the number of Rotate calls made so far, or -1 if
// the writer was not opened with RotationExtCtrl. Pass this as
// Options.NumRotas when opening a Reader against this log.
func (w *Writer) NumRotas() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sink.NumRotas()
}
