// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package backstore

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/asch/sbdd/internal/backstore/file"
	"github.com/asch/sbdd/internal/backstore/nbd"
	"github.com/asch/sbdd/internal/backstore/null"
	"github.com/asch/sbdd/internal/backstore/s3"
)

const (
	prefixS3   = "s3:"
	prefixNBD  = "nbd:"
	prefixNull = "null:"

	// Bare device names are looked up here.
	devDir = "/dev"
)

// Options for opening backing stores.
type Options struct {
	// Number of workers and queue depth of every handle.
	Workers    int
	QueueDepth int

	// Open files and block devices with O_DIRECT.
	Direct bool

	// Configuration shared by all s3 stores. Prefix is taken from the
	// identifier.
	S3 s3.Options
}

// Open opens backing store described by id and returns its handle. The
// identifier is one of
//
//	s3:<prefix>    chunks stored in s3 bucket under prefix
//	nbd:<target>   NBD URI or unix socket path
//	null:<MiB>     null device of given size
//	<path>         file or block device, bare names are looked up in /dev
func Open(id string, o Options) (*Handle, error) {
	dev, err := openDevice(id, o)
	if err != nil {
		return nil, err
	}

	return NewHandle(id, dev, o.Workers, o.QueueDepth), nil
}

func openDevice(id string, o Options) (Device, error) {
	switch {
	case strings.HasPrefix(id, prefixS3):
		so := o.S3
		so.Prefix = strings.TrimPrefix(id, prefixS3)
		if so.Prefix != "" && !strings.HasSuffix(so.Prefix, "/") {
			so.Prefix += "/"
		}
		return s3.New(so)

	case strings.HasPrefix(id, prefixNBD):
		return nbd.Connect(strings.TrimPrefix(id, prefixNBD))

	case strings.HasPrefix(id, prefixNull):
		mib, err := strconv.ParseInt(strings.TrimPrefix(id, prefixNull), 10, 64)
		if err != nil {
			return nil, err
		}
		return null.New(mib << 20), nil

	default:
		return file.Open(devicePath(id), o.Direct)
	}
}

// Resolves bare device name like sdb to /dev/sdb.
func devicePath(id string) string {
	if strings.ContainsRune(id, filepath.Separator) {
		return id
	}

	return filepath.Join(devDir, id)
}
