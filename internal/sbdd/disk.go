// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"github.com/rs/zerolog/log"

	"github.com/asch/sbdd/internal/blkio"
)

// disk passes every request unchanged to its only backing store.
type disk struct {
	dev   *Device
	store BackingStore
}

func (b *disk) Init(d *Device) error {
	b.dev = d
	b.store = d.stores[0]
	d.setGeometryFromStores()

	return nil
}

func (b *disk) Handle(r *blkio.Request) {
	t := b.dev.track(r, 1)
	if err := t.submitProxy(b.store); err != nil {
		log.Error().Err(err).Msg("Unable to clone request.")
		b.dev.end(r, err)
	}
}
