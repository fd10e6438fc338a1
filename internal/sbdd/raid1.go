// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/asch/sbdd/internal/blkio"
)

const noMirror = -1

// raid1 mirrors data on two backing stores. Writes go to both of them, reads
// alternate between them and a failed read is retried on the other mirror.
type raid1 struct {
	dev     *Device
	mirrors [2]BackingStore

	// Mirror used by the last read. It only spreads the load, hence
	// there is no need to keep it consistent with the choice made.
	last int32
}

func (m *raid1) Init(d *Device) error {
	m.dev = d
	copy(m.mirrors[:], d.stores)
	m.last = noMirror
	d.setGeometryFromStores()

	return nil
}

func (m *raid1) Handle(r *blkio.Request) {
	if r.Op == blkio.OpWrite {
		m.write(r)
	} else {
		m.read(r)
	}
}

// Every mirror gets its own clone of r and r is completed when both clones
// are done. All clones are allocated before any is submitted.
func (m *raid1) write(r *blkio.Request) {
	t := m.dev.track(r, len(m.mirrors))

	clones := make([]*blkio.Request, 0, len(m.mirrors))
	for range m.mirrors {
		c, err := m.dev.clone(r, t.endio)
		if err != nil {
			log.Error().Err(err).Msg("Unable to clone write request.")
			for _, c := range clones {
				m.dev.discard(c)
			}
			m.dev.end(r, err)
			return
		}
		clones = append(clones, c)
	}

	for i, c := range clones {
		m.mirrors[i].Submit(c)
	}
}

func (m *raid1) read(r *blkio.Request) {
	mirror := m.choose()
	t := m.dev.track(r, 1)

	c, err := m.dev.clone(r, func(c *blkio.Request) {
		m.readDone(t, mirror, c)
	})
	if err != nil {
		log.Error().Err(err).Msg("Unable to clone read request.")
		m.dev.end(r, err)
		return
	}

	m.mirrors[mirror].Submit(c)
}

// Picks the mirror which was not used by the previous read.
func (m *raid1) choose() int {
	mirror := 0
	if atomic.LoadInt32(&m.last) == 0 {
		mirror = 1
	}
	atomic.StoreInt32(&m.last, int32(mirror))

	return mirror
}

// Completion of the first read attempt. On failure the read is issued once
// more to the other mirror and that attempt decides the outcome of the
// original request.
func (m *raid1) readDone(t *tracker, mirror int, c *blkio.Request) {
	if c.Status == nil {
		t.put(nil)
		return
	}

	other := 1 - mirror
	log.Warn().Err(c.Status).Str("failed", m.mirrors[mirror].String()).Str("retry", m.mirrors[other].String()).
		Int64("sector", c.Sector).Msg("Read failed, trying the other mirror.")

	retry, err := m.dev.clone(t.orig, t.endio)
	if err != nil {
		log.Error().Err(err).Msg("Unable to clone request trying the other mirror.")
		t.put(err)
		return
	}
	retry.Priority = true

	m.mirrors[other].Submit(retry)
}
