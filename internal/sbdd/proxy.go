// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"sync"
	"sync/atomic"

	"github.com/asch/sbdd/internal/blkio"
)

// tracker is the completion state shared by all derived requests issued on
// behalf of one admitted request. It works as a fan-in barrier: the original
// request is completed and its quiesce reference released when the last
// expected derived completion arrives. The first error observed wins.
type tracker struct {
	dev     *Device
	orig    *blkio.Request
	pending int32

	mu     sync.Mutex
	status error
}

// track returns tracker for r which completes r after n calls of put.
func (d *Device) track(r *blkio.Request, n int) *tracker {
	return &tracker{
		dev:     d,
		orig:    r,
		pending: int32(n),
	}
}

// put accounts one terminal outcome.
func (t *tracker) put(err error) {
	if err != nil {
		t.mu.Lock()
		if t.status == nil {
			t.status = err
		}
		t.mu.Unlock()
	}

	if atomic.AddInt32(&t.pending, -1) != 0 {
		return
	}

	t.mu.Lock()
	status := t.status
	t.mu.Unlock()

	t.dev.end(t.orig, status)
}

// endio is completion callback of derived requests which just report their
// status.
func (t *tracker) endio(r *blkio.Request) {
	t.put(r.Status)
}

// clone derives request from parent with endio as its completion. The derived
// request takes one slot from the device budget which is returned right
// before endio runs, hence endio can derive another request.
func (d *Device) clone(parent *blkio.Request, endio func(*blkio.Request)) (*blkio.Request, error) {
	if !d.budget.TryAcquire(1) {
		return nil, blkio.ErrAllocation.Here().WithValue("sector", parent.Sector)
	}

	return parent.Clone(func(r *blkio.Request) {
		d.budget.Release(1)
		endio(r)
	}), nil
}

// discard returns budget of derived request which was never submitted.
func (d *Device) discard(r *blkio.Request) {
	d.budget.Release(1)
}

// submitProxy sends derived request to store. Its completion is folded into
// t, which is the only way a parent request served by backing stores is
// completed.
func (t *tracker) submitProxy(store BackingStore) error {
	r, err := t.dev.clone(t.orig, t.endio)
	if err != nil {
		return err
	}

	store.Submit(r)

	return nil
}

// end completes admitted request r with err and drops its quiesce reference.
func (d *Device) end(r *blkio.Request, err error) {
	r.Status = err
	r.Complete()
	d.quiesce.Release()
}
