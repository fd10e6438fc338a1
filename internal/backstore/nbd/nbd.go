// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package nbd implements backing store device on top of an NBD export using
// libnbd.
package nbd

import (
	"strings"

	"libguestfs.org/libnbd"
)

// NBD exports do not advertise logical block size in all protocol versions,
// hence the minimum is assumed.
const blockSize = 512

type NBD struct {
	handle *libnbd.Libnbd
	uri    string
	size   int64
}

// Connect opens connection to the export. Target is either NBD URI, like
// nbd://host/export or nbd+unix:///?socket=/tmp/nbd.sock, or a path to the
// unix socket.
func Connect(target string) (*NBD, error) {
	h, err := libnbd.Create()
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(target, "/") {
		err = h.ConnectUnix(target)
	} else {
		err = h.ConnectUri(target)
	}
	if err != nil {
		h.Close()
		return nil, err
	}

	size, err := h.GetSize()
	if err != nil {
		h.Close()
		return nil, err
	}

	return &NBD{
		handle: h,
		uri:    target,
		size:   int64(size),
	}, nil
}

func (n *NBD) ReadAt(buf []byte, offset int64) error {
	return n.handle.Pread(buf, uint64(offset), nil)
}

func (n *NBD) WriteAt(buf []byte, offset int64) error {
	return n.handle.Pwrite(buf, uint64(offset), nil)
}

func (n *NBD) Size() int64 {
	return n.size
}

func (n *NBD) BlockSize() int64 {
	return blockSize
}

// Close flushes the export and closes the connection.
func (n *NBD) Close() error {
	ferr := n.handle.Flush(nil)

	if err := n.handle.Close(); err != nil {
		return err
	}

	return ferr
}
