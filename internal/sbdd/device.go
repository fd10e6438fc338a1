// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package sbdd

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/asch/sbdd/internal/blkio"
)

const (
	// Upper bound of backing stores attached to one device.
	MaxBackingStores = 8

	// Default number of derived requests which can be in flight at once.
	DefaultMaxInflight = 4096
)

// BackingStore is handle of one underlying block device. Submit must not block
// the caller and the request is completed later from arbitrary goroutine.
type BackingStore interface {
	// Capacity in sectors.
	Capacity() int64

	// Logical block size in bytes.
	BlockSize() int64

	Submit(r *blkio.Request)
	Close() error
	String() string
}

// Opener opens backing store identified by id.
type Opener func(id string) (BackingStore, error)

// Options for Create. Devices are identifiers passed to the Opener in the same
// order.
type Options struct {
	Mode    string
	Devices []string

	// Capacity of the memory backend in sectors.
	MemoryCapacity int64

	// Maximum of derived requests in flight. Zero means
	// DefaultMaxInflight.
	MaxInflight int64
}

// Device is the logical block device.
type Device struct {
	capacity  int64
	blockSize int64

	stores  []BackingStore
	quiesce *Quiesce
	backend Backend
	mode    string

	// Budget for derived requests.
	budget *semaphore.Weighted

	closeOnce sync.Once
	closeErr  error
}

// Create validates the configuration, opens backing stores and initializes the
// backend. Nothing is opened when the configuration is invalid and all opened
// stores are closed when creation fails later.
func Create(o Options, open Opener) (*Device, error) {
	btype, err := lookupBackendType(o.Mode)
	if err != nil {
		return nil, err
	}

	if err := btype.validate(len(o.Devices)); err != nil {
		return nil, err
	}

	maxInflight := o.MaxInflight
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}

	d := &Device{
		quiesce: NewQuiesce(),
		budget:  semaphore.NewWeighted(maxInflight),
		mode:    btype.mode,
	}

	d.stores, err = openStores(o.Devices, open)
	if err != nil {
		return nil, err
	}

	d.backend = btype.new(o)
	if err := d.backend.Init(d); err != nil {
		log.Warn().Err(err).Str("mode", d.mode).Msg("Initialization failed.")
		d.closeStores()
		return nil, err
	}

	log.Info().Str("mode", d.mode).Int("stores", len(d.stores)).
		Str("capacity", humanize.IBytes(uint64(d.capacity<<blkio.SectorShift))).
		Int64("block_size", d.blockSize).Msg("Device created.")

	return d, nil
}

// Opens all backing stores concurrently. Order of the result follows order of
// ids.
func openStores(ids []string, open Opener) ([]BackingStore, error) {
	stores := make([]BackingStore, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			log.Info().Str("store", id).Msg("Opening backing store.")
			s, err := open(id)
			if err != nil {
				log.Error().Err(err).Str("store", id).Msg("Unable to open backing store.")
				return err
			}
			stores[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, s := range stores {
			if s != nil {
				s.Close()
			}
		}
		return nil, err
	}

	return stores, nil
}

// Submit passes r to the backend. When r is malformed or the device is
// draining r is failed immediately. In all cases r is completed exactly once, maybe
// asynchronously.
func (d *Device) Submit(r *blkio.Request) {
	if err := r.Validate(); err != nil {
		log.Error().Err(err).Int64("sector", r.Sector).Msg("Invalid request.")
		r.Status = err
		r.Complete()
		return
	}

	if err := d.quiesce.Admit(); err != nil {
		log.Error().Err(err).Int64("sector", r.Sector).Msg("Request rejected.")
		r.Status = err
		r.Complete()
		return
	}

	log.Trace().Str("op", r.Op.String()).Int64("sector", r.Sector).Int64("sectors", r.Sectors()).Send()

	d.backend.Handle(r)
}

// SubmitWait submits r and waits for its completion. The context is honored
// only until the request is submitted, an admitted request always runs to
// completion.
func (d *Device) SubmitWait(ctx context.Context, r *blkio.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	endio := r.EndIO
	r.EndIO = func(r *blkio.Request) {
		if endio != nil {
			endio(r)
		}
		close(done)
	}

	d.Submit(r)
	<-done

	return r.Status
}

// Close drains the device and releases all resources. Requests submitted
// after Close started are failed. It waits without a timeout until all
// in-flight requests complete.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		log.Info().Int64("inflight", d.quiesce.Refs()).Msg("Draining device.")
		d.quiesce.BeginDrain()
		d.quiesce.WaitDrained()

		if f, ok := d.backend.(finalizer); ok {
			f.Fini()
		}

		d.closeErr = d.closeStores()
		log.Info().Msg("Device closed.")
	})

	return d.closeErr
}

func (d *Device) closeStores() error {
	var result *multierror.Error
	for _, s := range d.stores {
		log.Info().Str("store", s.String()).Msg("Closing backing store.")
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Capacity of the device in sectors.
func (d *Device) Capacity() int64 {
	return d.capacity
}

// BlockSize is logical block size of the device in bytes.
func (d *Device) BlockSize() int64 {
	return d.blockSize
}

func (d *Device) Mode() string {
	return d.mode
}

func (d *Device) Stores() []BackingStore {
	return d.stores
}

func (d *Device) Quiesce() *Quiesce {
	return d.quiesce
}

// setGeometryFromStores sets capacity to the smallest capacity of the stores,
// so no store is addressed past its end, and block size to the biggest block
// size, so every store can satisfy the alignment.
func (d *Device) setGeometryFromStores() {
	var capacity, blockSize int64
	for i, s := range d.stores {
		if i == 0 || s.Capacity() < capacity {
			capacity = s.Capacity()
		}
		if s.BlockSize() > blockSize {
			blockSize = s.BlockSize()
		}
	}

	d.capacity = capacity
	d.blockSize = blockSize
}
