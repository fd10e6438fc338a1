// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package blkio describes block I/O requests flowing through the logical
// device and its backing stores. A request is either issued by the caller of
// the device or derived from such a request by a backend to address one
// particular backing store. Derived requests always point back to the request
// they act on behalf of.
package blkio

import (
	"sync/atomic"
)

const (
	// Sector is always 512 bytes, no matter what the logical block size of
	// the device is. All addressing in requests uses this unit.
	SectorShift = 9
	SectorSize  = 1 << SectorShift
)

// Op is direction of the request.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}

	return "read"
}

// Request is one block I/O operation. Segments are contiguous pieces of
// memory which are transferred one after another starting at Sector.
type Request struct {
	Op Op

	// First sector of the request.
	Sector int64

	// Data of the request. Together they cover Len() bytes.
	Segments [][]byte

	// Priority requests are served ahead of regular ones by backing stores.
	Priority bool

	// Terminal status of the request, nil means success. Valid only once
	// EndIO is called.
	Status error

	// Completion callback. Called exactly once from an arbitrary
	// goroutine.
	EndIO func(*Request)

	parent    *Request
	completed int32
}

// New returns request for op starting at sector over segs.
func New(op Op, sector int64, endio func(*Request), segs ...[]byte) *Request {
	return &Request{
		Op:       op,
		Sector:   sector,
		Segments: segs,
		EndIO:    endio,
	}
}

// Len returns length of the request in bytes.
func (r *Request) Len() int64 {
	var n int64
	for _, s := range r.Segments {
		n += int64(len(s))
	}

	return n
}

// Sectors returns length of the request in sectors.
func (r *Request) Sectors() int64 {
	return r.Len() >> SectorShift
}

// Validate checks that r addresses a non-negative sector and that every
// segment is a whole number of sectors.
func (r *Request) Validate() error {
	if r.Sector < 0 {
		return ErrInvalid.Here().WithValue("sector", r.Sector)
	}

	for i, s := range r.Segments {
		if len(s)%SectorSize != 0 {
			return ErrInvalid.Here().Appendf("segment %d has %d bytes", i, len(s)).WithValue("sector", r.Sector)
		}
	}

	return nil
}

// Parent returns the request r was derived from or nil for requests issued by
// the device caller.
func (r *Request) Parent() *Request {
	return r.parent
}

// Clone returns derived request addressing the same range with the same data
// as r. The data are shared, not copied.
func (r *Request) Clone(endio func(*Request)) *Request {
	return &Request{
		Op:       r.Op,
		Sector:   r.Sector,
		Segments: r.Segments,
		Priority: r.Priority,
		EndIO:    endio,
		parent:   r,
	}
}

// Complete finishes the request with its current Status. Completing request
// twice is a bug in the caller.
func (r *Request) Complete() {
	if !atomic.CompareAndSwapInt32(&r.completed, 0, 1) {
		panic("blkio: request completed twice")
	}

	if r.EndIO != nil {
		r.EndIO(r)
	}
}

// Completed reports whether Complete was already called.
func (r *Request) Completed() bool {
	return atomic.LoadInt32(&r.completed) == 1
}
