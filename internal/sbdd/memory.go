// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/sbdd/internal/blkio"
)

// Capacity of the memory backend when none is configured, 100MiB.
const DefaultMemoryCapacity = 100 << (20 - blkio.SectorShift)

// memory keeps all data in one buffer guarded by one lock. Requests are served
// synchronously.
type memory struct {
	dev      *Device
	capacity int64

	mu   sync.Mutex
	data []byte
}

func newMemory(capacity int64) *memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}

	return &memory{capacity: capacity}
}

func (m *memory) Init(d *Device) error {
	log.Info().Int64("sectors", m.capacity).Msg("Allocating data.")
	m.data = make([]byte, m.capacity<<blkio.SectorShift)
	m.dev = d

	d.capacity = m.capacity
	d.blockSize = blkio.SectorSize

	return nil
}

func (m *memory) Handle(r *blkio.Request) {
	pos := r.Sector
	for _, seg := range r.Segments {
		pos += m.xfer(seg, pos, r.Op)
	}

	m.dev.end(r, nil)
}

// Copies one segment from or to the buffer. The length is clamped at the
// capacity. Returns number of sectors transferred.
func (m *memory) xfer(seg []byte, pos int64, op blkio.Op) int64 {
	n := int64(len(seg)) >> blkio.SectorShift
	if pos >= m.capacity {
		return 0
	}
	if pos+n > m.capacity {
		n = m.capacity - pos
	}

	offset := pos << blkio.SectorShift
	nbytes := n << blkio.SectorShift

	m.mu.Lock()
	if op == blkio.OpWrite {
		copy(m.data[offset:offset+nbytes], seg[:nbytes])
	} else {
		copy(seg[:nbytes], m.data[offset:offset+nbytes])
	}
	m.mu.Unlock()

	log.Trace().Int64("pos", pos).Int64("len", n).Str("op", op.String()).Send()

	return n
}

func (m *memory) Fini() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil {
		log.Info().Msg("Freeing data.")
		m.data = nil
	}
}
