// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// sbdd is a userspace daemon using BUSE for creating a block device which
// virtualizes zero, one or two backing devices. Every request coming to the
// device is dispatched to a backend selected at the start: memory keeps data
// in RAM, disk passes requests to one backing device and raid1 mirrors them
// on two backing devices.
//
// Project structure is following:
//
// - internal/sbdd contains the logical device, its admission and teardown
// protocol and all the backends.
//
// - internal/backstore contains handles of backing devices. Backing device can
// be a file or block device, s3 bucket, NBD export or null device. See the
// package descriptions in the source code for more details.
//
// - internal/busedev glues the logical device to the buse library.
//
// - internal/blkio contains request definition shared by all the above.
//
// - internal/config contains configuration package.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asch/buse/lib/go/buse"
	"github.com/asch/sbdd/internal/backstore"
	"github.com/asch/sbdd/internal/backstore/s3"
	"github.com/asch/sbdd/internal/blkio"
	"github.com/asch/sbdd/internal/busedev"
	"github.com/asch/sbdd/internal/config"
	"github.com/asch/sbdd/internal/sbdd"
)

// Parse configuration from file and environment variables, creates the logical
// device and new buse device on top of it. The device is ran until it is
// signaled by SIGINT or SIGTERM to gracefully finish.
func main() {
	err := config.Configure()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	if config.Cfg.Profiler {
		runProfiler(config.Cfg.ProfilerPort)
	}

	log.Info().Str("mode", config.Cfg.Mode).Strs("devices", config.Cfg.Devices).Msg("Starting initialization...")

	dev, err := sbdd.Create(sbdd.Options{
		Mode:           config.Cfg.Mode,
		Devices:        config.Cfg.Devices,
		MemoryCapacity: config.Cfg.Memory.CapacityMiB << (20 - blkio.SectorShift),
		MaxInflight:    config.Cfg.MaxInflight,
	}, openBackingStore)

	if err != nil {
		log.Fatal().Err(err).Msg("Initialization failed.")
	}

	blockSize, err := busedev.BlockSize(dev.BlockSize())
	if err != nil {
		dev.Close()
		log.Fatal().Err(err).Msg("Initialization failed.")
	}

	buseReadWriter := busedev.New(dev, busedev.Options{
		BlockSize:      blockSize,
		WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
	})

	buse, err := buse.New(buseReadWriter, buse.Options{
		Durable:        config.Cfg.Write.Durable,
		WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
		BlockSize:      blockSize,
		Threads:        int(config.Cfg.Threads),
		Major:          int64(config.Cfg.Major),
		WriteShmSize:   int64(config.Cfg.Write.BufSize),
		ReadShmSize:    int64(config.Cfg.Read.BufSize),
		Size:           dev.Capacity() << blkio.SectorShift,
		CollisionArea:  int64(config.Cfg.Write.CollisionSize),
		QueueDepth:     int64(config.Cfg.QueueDepth),
		Scheduler:      config.Cfg.Scheduler,
	})

	if err != nil {
		dev.Close()
		log.Panic().Msg(err.Error())
	}

	log.Info().Msgf("BUSE device %d registered!", config.Cfg.Major)

	registerSigHandlers(buse)

	buse.Run()

	log.Info().Msgf("Removing buse%d", config.Cfg.Major)
	buse.RemoveDevice()

	if err := dev.Close(); err != nil {
		log.Error().Err(err).Send()
	}

	log.Info().Msg("Exiting complete.")
}

// Opens backing store identified by id with handle options from the
// configuration.
func openBackingStore(id string) (sbdd.BackingStore, error) {
	h, err := backstore.Open(id, backstore.Options{
		Workers:    config.Cfg.Store.Workers,
		QueueDepth: config.Cfg.Store.QueueDepth,
		Direct:     config.Cfg.Store.Direct,
		S3: s3.Options{
			Remote:    config.Cfg.S3.Remote,
			Region:    config.Cfg.S3.Region,
			Bucket:    config.Cfg.S3.Bucket,
			AccessKey: config.Cfg.S3.AccessKey,
			SecretKey: config.Cfg.S3.SecretKey,
			Size:      config.Cfg.S3.Size,
			ChunkSize: config.Cfg.S3.ChunkSize,
		},
	})

	if err != nil {
		return nil, err
	}

	return h, nil
}

// Register handler for graceful stop when SIGINT or SIGTERM came in.
func registerSigHandlers(buse buse.Buse) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msgf("Received interrupt, stopping buse%d device!", config.Cfg.Major)
		buse.StopDevice()
	}()
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}
