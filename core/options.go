package core

import "log/slog"

type options struct {
	logger      *slog.Logger
	compressMin int // 0 disables compression
	syncWrites  bool
	truncate    bool
}

// Option configures a DB at Open time.
type Option func(*options)

// WithLogger sets the logger used by the store. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCompression stores payloads of at least minSize bytes zstd-compressed
// when that makes them smaller. A minSize of 0 disables compression; values
// below MinCompressionMinSize are raised to it.
func WithCompression(minSize int) Option {
	return func(o *options) {
		if minSize > 0 && minSize < MinCompressionMinSize {
			minSize = MinCompressionMinSize
		}
		o.compressMin = minSize
	}
}

// WithSyncWrites fsyncs the store file after every header update.
func WithSyncWrites(enabled bool) Option {
	return func(o *options) {
		o.syncWrites = enabled
	}
}

// WithTruncate discards any existing store content and starts empty.
func WithTruncate() Option {
	return func(o *options) {
		o.truncate = true
	}
}
