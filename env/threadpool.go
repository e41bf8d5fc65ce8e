package env

import "golang.org/x/sync/errgroup"

// BoundedPool runs tasks on at most n concurrent goroutines. It
// generalizes the teacher's MaybeScheduleCompaction -> go
// dbImpl.backgroundCall() pattern, which spawns one goroutine per
// compaction, to the fixed worker count spec.md's compaction_pool
// option calls for, using the same errgroup.Group-with-SetLimit
// bounded fan-out the pack's replay harness uses for its workload
// goroutines.
type BoundedPool struct {
	group *errgroup.Group
}

// NewBoundedPool returns a pool that runs at most n tasks at once. n
// must be at least 1.
func NewBoundedPool(n int) *BoundedPool {
	if n < 1 {
		n = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(n)
	return &BoundedPool{group: g}
}

// Schedule runs task on the next available worker slot, blocking the
// caller only while every slot is occupied.
func (p *BoundedPool) Schedule(task func()) {
	p.group.Go(func() error {
		task()
		return nil
	})
}

// Close waits for every scheduled task to finish. Callers must not
// call Schedule concurrently with Close.
func (p *BoundedPool) Close() {
	_ = p.group.Wait()
}

// InlinePool runs every task synchronously on the calling goroutine.
// The writer never selects it on its own: with no pool configured it
// calls its compaction inline directly.
type InlinePool struct{}

func (InlinePool) Schedule(task func()) { task() }
func (InlinePool) Close()               {}
