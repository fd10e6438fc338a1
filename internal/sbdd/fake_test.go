// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asch/sbdd/internal/blkio"
)

const waitTimeout = 5 * time.Second

// fakeStore keeps data in memory and completes requests from its own
// goroutine, like a real backing store would.
type fakeStore struct {
	name      string
	capacity  int64
	blockSize int64

	// Errors returned for reads and writes.
	readErr  error
	writeErr error
	closeErr error

	// When set, completions wait until it is closed.
	gate chan struct{}

	reads  int32
	writes int32
	closed int32

	mu   sync.Mutex
	data []byte
	seen []*blkio.Request
}

func newFakeStore(name string, capacity, blockSize int64) *fakeStore {
	return &fakeStore{
		name:      name,
		capacity:  capacity,
		blockSize: blockSize,
		data:      make([]byte, capacity<<blkio.SectorShift),
	}
}

func (s *fakeStore) Capacity() int64  { return s.capacity }
func (s *fakeStore) BlockSize() int64 { return s.blockSize }
func (s *fakeStore) String() string   { return s.name }

func (s *fakeStore) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return s.closeErr
}

func (s *fakeStore) Submit(r *blkio.Request) {
	if r.Op == blkio.OpWrite {
		atomic.AddInt32(&s.writes, 1)
	} else {
		atomic.AddInt32(&s.reads, 1)
	}

	s.mu.Lock()
	s.seen = append(s.seen, r)
	s.mu.Unlock()

	go func() {
		if s.gate != nil {
			<-s.gate
		}
		s.serve(r)
		r.Complete()
	}()
}

func (s *fakeStore) serve(r *blkio.Request) {
	err := s.readErr
	if r.Op == blkio.OpWrite {
		err = s.writeErr
	}
	if err != nil {
		r.Status = err
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	off := r.Sector << blkio.SectorShift
	for _, seg := range r.Segments {
		if r.Op == blkio.OpWrite {
			copy(s.data[off:], seg)
		} else {
			copy(seg, s.data[off:])
		}
		off += int64(len(seg))
	}
}

func (s *fakeStore) requests() []*blkio.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*blkio.Request(nil), s.seen...)
}

func (s *fakeStore) Reads() int32  { return atomic.LoadInt32(&s.reads) }
func (s *fakeStore) Writes() int32 { return atomic.LoadInt32(&s.writes) }
func (s *fakeStore) Closed() bool  { return atomic.LoadInt32(&s.closed) == 1 }

// Opener handing out prepared stores by their names.
func fakeOpener(stores ...*fakeStore) Opener {
	return func(id string) (BackingStore, error) {
		for _, s := range stores {
			if s.name == id {
				return s, nil
			}
		}
		return nil, fmt.Errorf("no such store %s", id)
	}
}

func names(stores ...*fakeStore) []string {
	ids := make([]string, len(stores))
	for i, s := range stores {
		ids[i] = s.name
	}

	return ids
}

// completion counts calls of the request completion callback.
type completion struct {
	calls  int32
	status error
	done   chan struct{}
}

func newRequest(op blkio.Op, sector int64, buf []byte) (*blkio.Request, *completion) {
	c := &completion{done: make(chan struct{})}
	r := blkio.New(op, sector, func(r *blkio.Request) {
		if atomic.AddInt32(&c.calls, 1) == 1 {
			c.status = r.Status
			close(c.done)
		}
	}, buf)

	return r, c
}

func (c *completion) wait(t *testing.T) error {
	t.Helper()

	select {
	case <-c.done:
	case <-time.After(waitTimeout):
		t.Fatal("request not completed")
	}

	return c.status
}

func (c *completion) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *completion) Calls() int32 {
	return atomic.LoadInt32(&c.calls)
}

// Waits until all quiesce references of d are released.
func requireDrained(t *testing.T, d *Device) {
	t.Helper()

	require.Eventually(t, func() bool {
		return d.Quiesce().Refs() == 0
	}, waitTimeout, time.Millisecond)
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}

	return b
}
