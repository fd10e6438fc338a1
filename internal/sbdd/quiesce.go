// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"sync"
	"sync/atomic"

	"github.com/asch/sbdd/internal/blkio"
)

// Quiesce gates entry and exit of requests. It counts admitted requests and
// once draining starts it refuses new ones, so the device can wait until all
// in-flight requests are finished before it is destroyed.
type Quiesce struct {
	refs     int64
	draining int32

	// Guards waiting for refs dropping to zero.
	mu    sync.Mutex
	drain *sync.Cond
}

func NewQuiesce() *Quiesce {
	q := &Quiesce{}
	q.drain = sync.NewCond(&q.mu)

	return q
}

// Admit takes a reference for one request. It fails with blkio.ErrDraining
// when draining already started, in which case no reference is held and the
// caller must not proceed with the request.
func (q *Quiesce) Admit() error {
	atomic.AddInt64(&q.refs, 1)
	if atomic.LoadInt32(&q.draining) != 0 {
		q.Release()
		return blkio.ErrDraining.Here()
	}

	return nil
}

// Release drops reference taken by successful Admit and wakes up the drainer
// when it was the last one.
func (q *Quiesce) Release() {
	n := atomic.AddInt64(&q.refs, -1)
	if n < 0 {
		panic("sbdd: quiesce reference released more times than admitted")
	}

	if n == 0 {
		q.mu.Lock()
		q.drain.Broadcast()
		q.mu.Unlock()
	}
}

// BeginDrain makes every subsequent Admit fail.
func (q *Quiesce) BeginDrain() {
	atomic.StoreInt32(&q.draining, 1)
}

// WaitDrained blocks until no reference is held. There is no timeout. Valid
// only after BeginDrain, otherwise new requests can keep it waiting forever.
func (q *Quiesce) WaitDrained() {
	q.mu.Lock()
	for atomic.LoadInt64(&q.refs) != 0 {
		q.drain.Wait()
	}
	q.mu.Unlock()
}

// Refs returns number of currently held references.
func (q *Quiesce) Refs() int64 {
	return atomic.LoadInt64(&q.refs)
}

func (q *Quiesce) Draining() bool {
	return atomic.LoadInt32(&q.draining) != 0
}
