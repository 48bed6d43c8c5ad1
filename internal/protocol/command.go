package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// MaxValueSize bounds the value of a single command.
const MaxValueSize = 64 << 20

var ErrCommandTooLarge = errors.New("command exceeds the maximum size")

// Command represents a decoded client command received by the hierdb server.
//
// A Command consists of a command name (Cmd), an optional entry name (Key)
// and an optional payload (Val). The meaning of Key and Val depends on the
// command (e.g. "put" stores Val as the data of the entry Key).
type Command struct {
	Cmd string // Command name (e.g. "ls", "cd", "put")
	Key string // Entry name argument (may be empty)
	Val []byte // Payload argument (may be empty)
}

// EncodeCommand serializes a client command into its wire format.
//
// The command is encoded as:
//
//	<cmd_len:uint8><key_len:uint32><val_len:uint32><cmd><key><val>
//
// All integer fields are encoded using big-endian byte order.
// The command name length is limited to 255 bytes.
func EncodeCommand(cmd, key string, val []byte) ([]byte, error) {
	if len(cmd) > 255 || len(val) > MaxValueSize || len(key) > MaxValueSize {
		return nil, ErrCommandTooLarge
	}

	buf := &bytes.Buffer{}
	buf.Grow(9 + len(cmd) + len(key) + len(val))

	buf.WriteByte(uint8(len(cmd)))
	if err := binary.Write(buf, binary.BigEndian, uint32(len(key))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(val))); err != nil {
		return nil, err
	}

	buf.WriteString(cmd)
	buf.WriteString(key)
	buf.Write(val)

	return buf.Bytes(), nil
}

// DecodeCommand reads and decodes a command from r.
//
// It first reads the length-prefixed header fields, then reads the
// command name, key, and value payloads in sequence.
//
// DecodeCommand blocks until the full command has been read or an
// error occurs.
func DecodeCommand(r io.Reader) (*Command, error) {
	var cmdLen uint8
	var keyLen uint32
	var valLen uint32

	// Read lengths
	if err := binary.Read(r, binary.BigEndian, &cmdLen); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &valLen); err != nil {
		return nil, err
	}

	if keyLen > MaxValueSize || valLen > MaxValueSize {
		return nil, ErrCommandTooLarge
	}

	// Read payload
	cmdB := make([]byte, cmdLen)
	keyB := make([]byte, keyLen)
	valB := make([]byte, valLen)

	if _, err := io.ReadFull(r, cmdB); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, keyB); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, valB); err != nil {
		return nil, err
	}

	return &Command{
		Cmd: string(cmdB),
		Key: string(keyB),
		Val: valB,
	}, nil
}
