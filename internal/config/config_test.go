// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFromEnvironment(t *testing.T) {
	Cfg = Config{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}

	t.Setenv("SBDD_MODE", "raid1")
	t.Setenv("SBDD_DEVICES", "sdb,nbd:/tmp/nbd.sock")
	t.Setenv("SBDD_S3_CHUNKSIZE", "2")

	require.NoError(t, parse())

	assert.Equal(t, "raid1", Cfg.Mode)
	assert.Equal(t, []string{"sdb", "nbd:/tmp/nbd.sock"}, Cfg.Devices)
	assert.Equal(t, int64(2*1024*1024), Cfg.S3.ChunkSize)
	assert.Equal(t, int64(100), Cfg.Memory.CapacityMiB)
	assert.Equal(t, int64(4096), Cfg.MaxInflight)
	assert.Equal(t, 4*1024*1024, Cfg.Write.ChunkSize)
}
