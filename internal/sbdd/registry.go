// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"github.com/asch/sbdd/internal/blkio"
)

const (
	ModeMemory = "memory"
	ModeDisk   = "disk"
	ModeRAID1  = "raid1"
)

// Backend maps requests of the logical device onto its backing stores. Init
// is called once when the device is created and has to negotiate the device
// geometry. Handle is called for every admitted request and the backend has
// to end it exactly once, directly or through a tracker.
type Backend interface {
	Init(d *Device) error
	Handle(r *blkio.Request)
}

// Optional teardown hook of a backend, called after the device is drained.
type finalizer interface {
	Fini()
}

// Description of one supported mode. Number of backing stores has to fit into
// [minStores, maxStores].
type backendType struct {
	mode      string
	minStores int
	maxStores int
	new       func(o Options) Backend
}

var backendTypes = []backendType{
	{
		mode:      ModeMemory,
		minStores: 0,
		maxStores: 0,
		new: func(o Options) Backend {
			return newMemory(o.MemoryCapacity)
		},
	},
	{
		mode:      ModeDisk,
		minStores: 1,
		maxStores: 1,
		new: func(o Options) Backend {
			return &disk{}
		},
	},
	{
		mode:      ModeRAID1,
		minStores: 2,
		maxStores: 2,
		new: func(o Options) Backend {
			return &raid1{}
		},
	},
}

// Modes returns names of all supported modes.
func Modes() []string {
	modes := make([]string, len(backendTypes))
	for i, t := range backendTypes {
		modes[i] = t.mode
	}

	return modes
}

func lookupBackendType(mode string) (*backendType, error) {
	for i := range backendTypes {
		if backendTypes[i].mode == mode {
			return &backendTypes[i], nil
		}
	}

	return nil, blkio.ErrConfiguration.Here().Appendf("invalid mode %q", mode)
}

// Checks number of backing stores against the mode bounds.
func (t *backendType) validate(stores int) error {
	if stores > MaxBackingStores {
		return blkio.ErrConfiguration.Here().Appendf("at most %d backing stores supported, got %d",
			MaxBackingStores, stores)
	}

	if stores < t.minStores || stores > t.maxStores {
		return blkio.ErrConfiguration.Here().Appendf("mode %s needs number of backing stores in range [%d, %d], got %d",
			t.mode, t.minStores, t.maxStores, stores)
	}

	return nil
}
