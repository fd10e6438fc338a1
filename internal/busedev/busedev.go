// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package busedev connects the logical device to the buse library. It
// implements BuseReadWriter interface and translates reads and batches of
// writes coming from the kernel into device requests.
package busedev

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/sbdd/internal/blkio"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	WRITE_ITEM_SIZE = 32
)

// Submitter is the part of the logical device used by the adapter.
type Submitter interface {
	SubmitWait(ctx context.Context, r *blkio.Request) error
	Close() error
}

// Options of the adapter. They have to match options the buse device was
// created with.
type Options struct {
	BlockSize      int64
	WriteChunkSize int64
}

// busedev implements BuseReadWriter interface which can be passed to the buse
// package. Buse package wraps the communication with the BUSE kernel module
// and does all the necessary configuration and low level operations.
type busedev struct {
	dev       Submitter
	blockSize int64

	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	write_item_size int

	// Size of the chunk portion which contains all writes metadata. After
	// this metadata_size offset real data are stored.
	metadata_size int
}

// Write extent parsed from the chunk metadata. Sector and Length are in 512B
// sectors.
type extent struct {
	Sector int64
	Length int64
	SeqNo  int64
	Flag   int64
}

// BlockSize maps block size negotiated by the device to one the buse device
// accepts, 512 or 4096 bytes. Smaller sizes are raised to the closest
// accepted one, which keeps every request aligned for the backing stores.
// Sizes above 4096 cannot be served.
func BlockSize(negotiated int64) (int64, error) {
	var bs int64
	switch {
	case negotiated > 4096:
		return 0, blkio.ErrConfiguration.Here().Appendf("block size %d is not supported by buse", negotiated)
	case negotiated > 512:
		bs = 4096
	default:
		bs = 512
	}

	if bs != negotiated {
		log.Warn().Int64("negotiated", negotiated).Int64("block_size", bs).Msg("Block size raised to the one supported by buse.")
	}

	return bs, nil
}

func New(dev Submitter, o Options) *busedev {
	return &busedev{
		dev:             dev,
		blockSize:       o.BlockSize,
		metadata_size:   int(o.WriteChunkSize / o.BlockSize * WRITE_ITEM_SIZE),
		write_item_size: WRITE_ITEM_SIZE,
	}
}

// Handle writes comming from the buse library. writes contain number write
// commands in this call and chunk contains memory where these commands are
// stored together with their data. First part of the chunk are metadata, until
// metadata_size and the rest are data of all writes in the same order.
//
// Every write becomes one request and all of them are submitted at once. The
// first error is returned after all of them finished.
func (b *busedev) BuseWrite(writes int64, chunk []byte) error {
	metadata := chunk[:b.metadata_size]
	data := chunk[b.metadata_size:]

	errs := make([]error, writes)
	var wg sync.WaitGroup
	for i := int64(0); i < writes; i++ {
		e := parseExtent(metadata[:b.write_item_size])
		metadata = metadata[b.write_item_size:]

		size := e.Length << blkio.SectorShift
		r := blkio.New(blkio.OpWrite, e.Sector, nil, data[:size])
		data = data[size:]

		wg.Add(1)
		go func(i int64, r *blkio.Request) {
			defer wg.Done()
			errs[i] = b.dev.SubmitWait(context.Background(), r)
		}(i, r)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			log.Info().Err(err).Send()
			return err
		}
	}

	return nil
}

// Read extent starting at block sector with length blocks to the buffer
// chunk.
func (b *busedev) BuseRead(sector, length int64, chunk []byte) error {
	r := blkio.New(blkio.OpRead, sector*b.blockSize>>blkio.SectorShift, nil, chunk[:length*b.blockSize])

	err := b.dev.SubmitWait(context.Background(), r)
	if err != nil {
		log.Info().Err(err).Send()
	}

	return err
}

func (b *busedev) BusePreRun() {
}

// After disconnecting from the kernel module the device is drained and all
// backing stores are closed.
func (b *busedev) BusePostRemove() {
	if err := b.dev.Close(); err != nil {
		log.Error().Err(err).Msg("Unable to close device.")
	}
}

// Parses write extent information from 32 bytes of raw memory. The memory is
// one write in metadata section of the chunk.
func parseExtent(b []byte) extent {
	return extent{
		Sector: int64(binary.LittleEndian.Uint64(b[:8])),
		Length: int64(binary.LittleEndian.Uint64(b[8:16])),
		SeqNo:  int64(binary.LittleEndian.Uint64(b[16:24])),
		Flag:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}
}
