// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package busedev

import (
	"encoding/binary"
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/sbdd/internal/blkio"
	"github.com/asch/sbdd/internal/sbdd"
)

const (
	blockSize = 4096
	chunkSize = 64 * blockSize
)

func newDevice(t *testing.T) *sbdd.Device {
	t.Helper()

	d, err := sbdd.Create(sbdd.Options{Mode: sbdd.ModeMemory, MemoryCapacity: 1024}, nil)
	require.NoError(t, err)

	return d
}

// Builds write chunk in the layout produced by the kernel module.
func writeChunk(exts []extent, payloads [][]byte) []byte {
	metadataSize := chunkSize / blockSize * WRITE_ITEM_SIZE
	chunk := make([]byte, metadataSize, metadataSize+chunkSize)

	for i, e := range exts {
		item := chunk[i*WRITE_ITEM_SIZE:]
		binary.LittleEndian.PutUint64(item[0:], uint64(e.Sector))
		binary.LittleEndian.PutUint64(item[8:], uint64(e.Length))
		binary.LittleEndian.PutUint64(item[16:], uint64(e.SeqNo))
		binary.LittleEndian.PutUint64(item[24:], uint64(e.Flag))
	}

	for _, p := range payloads {
		chunk = append(chunk, p...)
	}

	return chunk
}

func payload(sectors int, seed byte) []byte {
	b := make([]byte, sectors*blkio.SectorSize)
	for i := range b {
		b[i] = seed + byte(i%13)
	}

	return b
}

func TestParseExtent(t *testing.T) {
	chunk := writeChunk([]extent{{Sector: 24, Length: 8, SeqNo: 3, Flag: 1}}, nil)

	assert.Equal(t, extent{Sector: 24, Length: 8, SeqNo: 3, Flag: 1}, parseExtent(chunk[:WRITE_ITEM_SIZE]))
}

func TestWriteBatchThenRead(t *testing.T) {
	d := newDevice(t)
	b := New(d, Options{BlockSize: blockSize, WriteChunkSize: chunkSize})

	first := payload(8, 1)
	second := payload(16, 2)
	chunk := writeChunk([]extent{
		{Sector: 8, Length: 8, SeqNo: 1},
		{Sector: 32, Length: 16, SeqNo: 2},
	}, [][]byte{first, second})

	require.NoError(t, b.BuseWrite(2, chunk))

	// Block 1 is sector 8, block 4 is sector 32.
	buf := make([]byte, blockSize)
	require.NoError(t, b.BuseRead(1, 1, buf))
	assert.Equal(t, first, buf)

	buf = make([]byte, 2*blockSize)
	require.NoError(t, b.BuseRead(4, 2, buf))
	assert.Equal(t, second, buf)

	b.BusePostRemove()
	assert.Equal(t, int64(0), d.Quiesce().Refs())
}

func TestReadAfterRemoveFails(t *testing.T) {
	d := newDevice(t)
	b := New(d, Options{BlockSize: blockSize, WriteChunkSize: chunkSize})

	b.BusePreRun()
	b.BusePostRemove()

	err := b.BuseRead(0, 1, make([]byte, blockSize))
	assert.True(t, merry.Is(err, blkio.ErrDraining))

	chunk := writeChunk([]extent{{Sector: 0, Length: 8}}, [][]byte{payload(8, 0)})
	err = b.BuseWrite(1, chunk)
	assert.True(t, merry.Is(err, blkio.ErrDraining))
}

func TestBlockSize(t *testing.T) {
	for _, tc := range []struct{ negotiated, want int64 }{
		{512, 512},
		{256, 512},
		{1024, 4096},
		{2048, 4096},
		{4096, 4096},
	} {
		bs, err := BlockSize(tc.negotiated)
		require.NoError(t, err)
		assert.Equal(t, tc.want, bs, "negotiated %d", tc.negotiated)
	}

	_, err := BlockSize(8192)
	assert.True(t, merry.Is(err, blkio.ErrConfiguration))
}
