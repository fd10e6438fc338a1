// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package file implements backing store device on top of a regular file or a
// raw block device. With direct I/O the page cache is bypassed and all
// transfers go through aligned bounce buffers.
package file

import (
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
)

const sectorSize = 512

type File struct {
	file      *os.File
	size      int64
	blockSize int64

	direct bool
	align  int64

	// Read-modify-write of partially covered aligned blocks excludes
	// other writes.
	rmw sync.RWMutex
}

// Open opens path for reading and writing. Direct switches to O_DIRECT.
func Open(path string, direct bool) (*File, error) {
	var f *os.File
	var err error

	if direct {
		f, err = directio.OpenFile(path, os.O_RDWR, 0)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		return nil, err
	}

	// Works for both, regular files and block devices.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}

	blockSize, err := logicalBlockSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	align := int64(directio.AlignSize)
	if align < blockSize {
		align = blockSize
	}

	return &File{
		file:      f,
		size:      size,
		blockSize: blockSize,
		direct:    direct,
		align:     align,
	}, nil
}

func (f *File) ReadAt(buf []byte, offset int64) error {
	if !f.direct {
		_, err := f.file.ReadAt(buf, offset)
		return err
	}

	start, block := f.bounce(buf, offset)
	if err := f.readBlock(block, start); err != nil {
		return err
	}
	copy(buf, block[offset-start:])

	return nil
}

func (f *File) WriteAt(buf []byte, offset int64) error {
	if !f.direct {
		_, err := f.file.WriteAt(buf, offset)
		return err
	}

	start, block := f.bounce(buf, offset)

	if start == offset && len(block) == len(buf) {
		f.rmw.RLock()
		defer f.rmw.RUnlock()

		copy(block, buf)
		_, err := f.file.WriteAt(block, start)
		return err
	}

	f.rmw.Lock()
	defer f.rmw.Unlock()

	if err := f.readBlock(block, start); err != nil {
		return err
	}
	copy(block[offset-start:], buf)
	_, err := f.file.WriteAt(block, start)

	return err
}

// Returns aligned start and aligned buffer covering buf placed at offset. The
// buffer does not reach past the end of the device rounded up to the logical
// block size, so the tail is never extended by a read-modify-write.
func (f *File) bounce(buf []byte, offset int64) (int64, []byte) {
	start := offset / f.align * f.align
	end := roundUp(offset+int64(len(buf)), f.align)

	if limit := roundUp(f.size, f.blockSize); end > limit {
		end = roundUp(offset+int64(len(buf)), f.blockSize)
		if end < limit {
			end = limit
		}
	}

	return start, directio.AlignedBlock(int(end - start))
}

func roundUp(n, to int64) int64 {
	return (n + to - 1) / to * to
}

// Reads aligned block. The last block may be cut by the end of the device.
func (f *File) readBlock(block []byte, start int64) error {
	n, err := f.file.ReadAt(block, start)
	if err == io.EOF && start+int64(n) >= f.size {
		return nil
	}

	return err
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) BlockSize() int64 {
	return f.blockSize
}

func (f *File) Close() error {
	return f.file.Close()
}
