// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package blkio

import (
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
)

func TestCloneSharesDataAndPointsToParent(t *testing.T) {
	data := make([]byte, 2*SectorSize)
	r := New(OpWrite, 8, nil, data[:SectorSize], data[SectorSize:])

	c := r.Clone(nil)

	assert.Same(t, r, c.Parent())
	assert.Nil(t, r.Parent())
	assert.Equal(t, int64(8), c.Sector)
	assert.Equal(t, OpWrite, c.Op)
	assert.Equal(t, int64(2), c.Sectors())

	c.Segments[0][0] = 0xaa
	assert.Equal(t, byte(0xaa), data[0])
}

func TestCompleteOnce(t *testing.T) {
	calls := 0
	r := New(OpRead, 0, func(*Request) { calls++ }, make([]byte, SectorSize))

	assert.False(t, r.Completed())
	r.Complete()
	assert.True(t, r.Completed())
	assert.Equal(t, 1, calls)

	assert.Panics(t, r.Complete)
	assert.Equal(t, 1, calls)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "read", OpRead.String())
	assert.Equal(t, "write", OpWrite.String())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New(OpWrite, 0, nil, make([]byte, SectorSize), make([]byte, 2*SectorSize)).Validate())
	assert.NoError(t, New(OpRead, 7, nil).Validate())

	assert.True(t, merry.Is(New(OpRead, -1, nil, make([]byte, SectorSize)).Validate(), ErrInvalid))
	assert.True(t, merry.Is(New(OpWrite, 0, nil, make([]byte, 5)).Validate(), ErrInvalid))
	assert.True(t, merry.Is(New(OpWrite, 0, nil, make([]byte, SectorSize), make([]byte, 100)).Validate(), ErrInvalid))
}
