// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"flag"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	defaultConfig = "/etc/sbdd/config.toml"
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	Mode        string   `toml:"mode" env:"SBDD_MODE" env-default:"memory" env-description:"Operating mode: memory, disk or raid1."`
	Devices     []string `toml:"devices" env:"SBDD_DEVICES" env-separator:"," env-description:"Backing devices. Paths, names in /dev, s3:<prefix>, nbd:<uri> or null:<MiB>."`
	MaxInflight int64    `toml:"max_inflight" env:"SBDD_MAX_INFLIGHT" env-default:"4096" env-description:"Maximum number of requests in flight to backing devices."`

	Major      int  `toml:"major" env:"SBDD_MAJOR" env-default:"0" env-description:"Device major. Decimal part of /dev/buse%d."`
	Threads    int  `toml:"threads" env:"SBDD_THREADS" env-default:"0" env-description:"Number of user-space threads for serving queues."`
	Scheduler  bool `toml:"scheduler" env:"SBDD_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`
	QueueDepth int  `toml:"queue_depth" env:"SBDD_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`

	Memory struct {
		CapacityMiB int64 `toml:"capacity_mib" env:"SBDD_MEMORY_CAPACITY" env-default:"100" env-description:"Capacity of the memory device in MiB."`
	} `toml:"memory"`

	Store struct {
		Workers    int  `toml:"workers" env:"SBDD_STORE_WORKERS" env-default:"16" env-description:"Number of workers serving one backing device."`
		QueueDepth int  `toml:"queue_depth" env:"SBDD_STORE_QUEUEDEPTH" env-default:"128" env-description:"Queue depth of one backing device."`
		Direct     bool `toml:"direct" env:"SBDD_STORE_DIRECT" env-default:"false" env-description:"Open files and block devices with O_DIRECT."`
	} `toml:"store"`

	S3 struct {
		Bucket    string `toml:"bucket" env:"SBDD_S3_BUCKET" env-description:"S3 Bucket name." env-default:"sbdd"`
		Remote    string `toml:"remote" env:"SBDD_S3_REMOTE" env-description:"S3 Remote address. Empty string for AWS S3 endpoint." env-default:""`
		Region    string `toml:"region" env:"SBDD_S3_REGION" env-description:"S3 Region." env-default:"us-east-1"`
		AccessKey string `toml:"access_key" env:"SBDD_S3_ACCESSKEY" env-description:"S3 Access Key." env-default:""`
		SecretKey string `toml:"secret_key" env:"SBDD_S3_SECRETKEY" env-description:"S3 Secret Key." env-default:""`
		Size      int64  `toml:"size" env:"SBDD_S3_SIZE" env-description:"Size of every s3 device in GB." env-default:"8"`
		ChunkSize int64  `toml:"chunk_size" env:"SBDD_S3_CHUNKSIZE" env-description:"Object size in MB." env-default:"1"`
	} `toml:"s3"`

	Write struct {
		Durable       bool `toml:"durable" env:"SBDD_WRITE_DURABLE" env-description:"Flush semantics. True means durable, false means barrier only." env-default:"false"`
		BufSize       int  `toml:"shared_buffer_size" env:"SBDD_WRITE_BUFSIZE" env-description:"Write shared memory size in MB." env-default:"32"`
		ChunkSize     int  `toml:"chunk_size" env:"SBDD_WRITE_CHUNKSIZE" env-description:"Chunk size in MB." env-default:"4"`
		CollisionSize int  `toml:"collision_chunk_size" env:"SBDD_WRITE_COLSIZE" env-description:"Collision size in MB." env-default:"1"`
	} `toml:"write"`

	Read struct {
		BufSize int `toml:"shared_buffer_size" env:"SBDD_READ_BUFSIZE" env-description:"Read shared memory size in MB." env-default:"32"`
	} `toml:"read"`

	Log struct {
		Level  int  `toml:"level" env:"SBDD_LOG_LEVEL" env-description:"Log level." env-default:"1"`
		Pretty bool `toml:"pretty" env:"SBDD_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"SBDD_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"SBDD_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priotiry and the environment variables have
// the highest priority. It is perfetcly to fine to use just one of these or to
// combine them.
func Configure() error {
	flagSetup()
	err := parse()

	return err
}

// Parse the configuration file and reads the environment variable. After that
// it does some values postprocessing and fills the Cfg structure.
func parse() error {
	if err := cleanenv.ReadConfig(Cfg.ConfigPath, &Cfg); err != nil {
		if err := cleanenv.ReadEnv(&Cfg); err != nil {
			return err
		}
	}

	Cfg.S3.Size *= 1024 * 1024 * 1024
	Cfg.S3.ChunkSize *= 1024 * 1024
	Cfg.Write.BufSize *= 1024 * 1024
	Cfg.Write.ChunkSize *= 1024 * 1024
	Cfg.Write.CollisionSize *= 1024 * 1024
	Cfg.Read.BufSize *= 1024 * 1024

	return nil
}

// Handle program flags.
func flagSetup() {
	f := flag.NewFlagSet("sbdd", flag.ExitOnError)
	f.StringVar(&Cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(os.Args[1:])
}
