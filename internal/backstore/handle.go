// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package backstore provides handles of backing stores used by the logical
// device. A handle turns synchronous Device into asynchronous request
// submission served by a pool of workers with prioritization of requests.
package backstore

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/sbdd/internal/blkio"
)

// Device is a synchronous block storage. Anything implementing this interface
// can be used as a backing store. Offsets and lengths are in bytes.
type Device interface {
	// Reads len(buf) bytes starting at offset.
	ReadAt(buf []byte, offset int64) error

	// Writes buf starting at offset.
	WriteAt(buf []byte, offset int64) error

	// Size of the device in bytes.
	Size() int64

	// Logical block size in bytes.
	BlockSize() int64

	Close() error
}

// Handle of one backing store. Requests coming to the priority queue are
// handled first. Like this failover retries do not wait behind regular
// traffic.
type Handle struct {
	name string
	dev  Device

	// Number of go routines serving requests.
	workers int

	requests     chan *blkio.Request
	requestsPrio chan *blkio.Request
	quit         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// NewHandle returns handle which can be directly used. It immediately spawns
// workers go routines. Depth is length of the request queues.
func NewHandle(name string, dev Device, workers, depth int) *Handle {
	if workers <= 0 {
		workers = 1
	}

	h := &Handle{
		name:         name,
		dev:          dev,
		workers:      workers,
		requests:     make(chan *blkio.Request, depth),
		requestsPrio: make(chan *blkio.Request, depth),
		quit:         make(chan struct{}),
	}

	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go h.worker()
	}

	return h
}

func (h *Handle) String() string {
	return h.name
}

// Capacity in sectors.
func (h *Handle) Capacity() int64 {
	return h.dev.Size() >> blkio.SectorShift
}

func (h *Handle) BlockSize() int64 {
	return h.dev.BlockSize()
}

// Submit queues r for the workers and returns immediately. When the queue is
// full the request is handed over from a separate go routine, so completion
// callbacks can submit new requests without deadlocking the workers.
func (h *Handle) Submit(r *blkio.Request) {
	c := h.requests
	if r.Priority {
		c = h.requestsPrio
	}

	select {
	case c <- r:
	default:
		go func() {
			c <- r
		}()
	}
}

// Close stops the workers and closes the device. All submitted requests must
// be completed before.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.quit)
		h.wg.Wait()
		err = h.dev.Close()
	})

	return err
}

// Generic function for prioritization. Returns false when the handle is
// closing.
func (h *Handle) receiveRequest() (*blkio.Request, bool) {
	select {
	case r := <-h.requestsPrio:
		return r, true
	default:
	}

	select {
	case r := <-h.requestsPrio:
		return r, true
	case r := <-h.requests:
		return r, true
	case <-h.quit:
		return nil, false
	}
}

func (h *Handle) worker() {
	defer h.wg.Done()

	for {
		r, ok := h.receiveRequest()
		if !ok {
			return
		}

		h.serve(r)
		r.Complete()
	}
}

// Transfers all segments of r one after another.
func (h *Handle) serve(r *blkio.Request) {
	offset := r.Sector << blkio.SectorShift

	for _, seg := range r.Segments {
		var err error
		if r.Op == blkio.OpWrite {
			err = h.dev.WriteAt(seg, offset)
		} else {
			err = h.dev.ReadAt(seg, offset)
		}

		if err != nil {
			log.Error().Err(err).Str("store", h.name).Str("op", r.Op.String()).Int64("offset", offset).Send()
			r.Status = blkio.ErrBackingStore.Here().Append(err.Error()).
				WithValue("store", h.name).WithValue("offset", offset)
			return
		}

		offset += int64(len(seg))
	}
}
