// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Null package does nothing but correctly.
package null

const sectorSize = 512

// Null implementation of backing store device. Useful for measuring
// performance of the request path without any real storage. Reads leave the
// buffer untouched and writes are dropped.
type Null struct {
	size int64
}

// New returns null device pretending to have size bytes.
func New(size int64) *Null {
	return &Null{size: size}
}

func (n *Null) ReadAt(buf []byte, offset int64) error {
	return nil
}

func (n *Null) WriteAt(buf []byte, offset int64) error {
	return nil
}

func (n *Null) Size() int64 {
	return n.size
}

func (n *Null) BlockSize() int64 {
	return sectorSize
}

func (n *Null) Close() error {
	return nil
}
