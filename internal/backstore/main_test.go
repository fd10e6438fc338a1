// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package backstore

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}
