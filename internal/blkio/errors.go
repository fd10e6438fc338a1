// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package blkio

import (
	"github.com/ansel1/merry"
)

// Errors are matched with merry.Is. Call sites decorate them with Here() and
// values describing the failed operation.
var (
	// Admission rejected because the device is being torn down.
	ErrDraining = merry.New("unable to do block I/O while draining")

	// Derived request could not be constructed.
	ErrAllocation = merry.New("unable to allocate derived request")

	// Backing store reported failed operation.
	ErrBackingStore = merry.New("backing store I/O error")

	// Request addresses a negative sector or carries a segment which is
	// not a whole number of sectors.
	ErrInvalid = merry.New("invalid block I/O request")

	// Unknown mode or backing store count out of the mode bounds.
	ErrConfiguration = merry.New("invalid device configuration")
)
