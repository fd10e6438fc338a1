// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// Block devices report their logical sector size, regular files use the
// sector size.
func logicalBlockSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if fi.Mode()&os.ModeDevice == 0 {
		return sectorSize, nil
	}

	lbs, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, err
	}

	return int64(lbs), nil
}
