package utils

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"github.com/0xRadioAc7iv/go-hierdb/internal"
	"github.com/kballard/go-shellquote"
)

var ErrEmptyCommand = errors.New("empty command")

// ServerFlags holds the command line of the hierdb server.
type ServerFlags struct {
	Config  *internal.Config
	Verbose bool
	Check   bool
}

// HandleCLIInputs parses the server command line. Settings are taken from
// the dotenv file named by -env (and the environment) first; flags given
// explicitly override them.
func HandleCLIInputs(fs *flag.FlagSet, args []string) (*ServerFlags, error) {
	defaults := internal.DefaultConfig()

	envFile := fs.String("env", internal.DefaultEnvFile, "dotenv file with HIERDB_* settings")
	file := fs.String("file", defaults.File, "Path of the store file")
	blockSize := fs.Int("bs", defaults.BlockSize, "Block size (in bytes) for a new store")
	host := fs.String("host", defaults.Host, "Host to bind the TCP Server to")
	port := fs.Int("port", defaults.Port, "Port to use for the TCP Server")
	syncInterval := fs.Duration("sync", defaults.SyncInterval, "Interval between syncs of the store file (0 disables)")
	compressMin := fs.Int("compress-min", defaults.CompressMin, "Compress payloads of at least this many bytes (0 disables)")
	verbose := fs.Bool("v", false, "Enable debug logging")
	check := fs.Bool("check", false, "Check the store for consistency on startup")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := internal.LoadConfig(*envFile)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "file":
			cfg.File = *file
		case "bs":
			cfg.BlockSize = *blockSize
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "sync":
			cfg.SyncInterval = *syncInterval
		case "compress-min":
			cfg.CompressMin = *compressMin
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &ServerFlags{Config: cfg, Verbose: *verbose, Check: *check}, nil
}

// LogLevel maps the verbose flag onto a slog level.
func LogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// SplitStringIntoCommandAndArguments splits a command line using shell
// quoting rules. The first word is the command, the second the entry name
// and everything after it, joined by single spaces, the payload.
//
//	put "my file" hello world  ->  "put", "my file", "hello world"
func SplitStringIntoCommandAndArguments(line string) (cmd, key string, val []byte, err error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return "", "", nil, fmt.Errorf("parse error: %w", err)
	}
	if len(words) == 0 {
		return "", "", nil, ErrEmptyCommand
	}

	cmd = words[0]
	if len(words) > 1 {
		key = words[1]
	}
	if len(words) > 2 {
		val = []byte(strings.Join(words[2:], " "))
	}

	return cmd, key, val, nil
}
