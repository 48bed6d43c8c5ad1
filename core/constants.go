package core

import "github.com/0xRadioAc7iv/go-hierdb/internal/block"

const (
	DefaultBlockSize = block.DefaultBlockSize
	MinBlockSize     = block.MinBlockSize
	MaxBlockSize     = block.MaxBlockSize

	DefaultFileName = "hier.db"

	// Payloads below this size are never worth compressing.
	DefaultCompressionMinSize = 512
	MinCompressionMinSize     = 64
)
