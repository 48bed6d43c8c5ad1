package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/joho/godotenv"
)

type Config struct {
	Host         string
	Port         int
	DialTimeout  time.Duration
	File         string
	BlockSize    int
	SyncInterval time.Duration
	CompressMin  int // 0 disables compression
}

const DEFAULT_HOST = "127.0.0.1"
const DEFAULT_PORT = 9999
const DEFAULT_DIAL_TIMEOUT = 5 * time.Second
const DEFAULT_SYNC_INTERVAL = time.Second

// Environment keys read by LoadConfig.
const (
	EnvHost         = "HIERDB_HOST"
	EnvPort         = "HIERDB_PORT"
	EnvFile         = "HIERDB_FILE"
	EnvBlockSize    = "HIERDB_BLOCK_SIZE"
	EnvSyncInterval = "HIERDB_SYNC_INTERVAL"
	EnvCompressMin  = "HIERDB_COMPRESS_MIN"
)

// DefaultEnvFile is read by LoadConfig when present.
const DefaultEnvFile = ".env"

func DefaultConfig() *Config {
	return &Config{
		Host:         DEFAULT_HOST,
		Port:         DEFAULT_PORT,
		DialTimeout:  DEFAULT_DIAL_TIMEOUT,
		File:         core.DefaultFileName,
		BlockSize:    core.DefaultBlockSize,
		SyncInterval: DEFAULT_SYNC_INTERVAL,
		CompressMin:  core.DefaultCompressionMinSize,
	}
}

// LoadConfig returns the defaults overridden by the given dotenv files and
// then by the process environment. Missing files are skipped; with no files
// given, DefaultEnvFile is tried.
func LoadConfig(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}

	values := map[string]string{}
	for _, file := range files {
		data, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("(config-godotenv) %w", err)
		}
		for k, v := range data {
			values[k] = v
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.apply(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok {
		c.Host = v
	}
	if v, ok := lookup(EnvFile); ok {
		c.File = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvPort, &c.Port},
		{EnvBlockSize, &c.BlockSize},
		{EnvCompressMin, &c.CompressMin},
	}
	for _, i := range ints {
		v, ok := lookup(i.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}

	if v, ok := lookup(EnvSyncInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSyncInterval, err)
		}
		c.SyncInterval = d
	}

	return c.Validate()
}

// Validate checks the values a server needs to start.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.File == "" {
		return errors.New("store file must not be empty")
	}
	if c.BlockSize < core.MinBlockSize || c.BlockSize > core.MaxBlockSize {
		return fmt.Errorf("block size %d outside [%d, %d]", c.BlockSize, core.MinBlockSize, core.MaxBlockSize)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync interval %s is negative", c.SyncInterval)
	}
	if c.CompressMin < 0 {
		return fmt.Errorf("compression threshold %d is negative", c.CompressMin)
	}
	return nil
}
