// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

//go:build !linux

package file

import (
	"os"
)

func logicalBlockSize(f *os.File) (int64, error) {
	return sectorSize, nil
}
