package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Status tags every response.
type Status uint8

const (
	StatusOK    Status = iota // Body holds the result
	StatusNil                 // No such entry, or the entry has no data
	StatusError               // Body holds the error message
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNil:
		return "nil"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

type Response struct {
	Status Status
	Body   []byte
}

func OK(body string) *Response {
	return &Response{Status: StatusOK, Body: []byte(body)}
}

func Nil() *Response {
	return &Response{Status: StatusNil}
}

func Error(err error) *Response {
	return &Response{Status: StatusError, Body: []byte(err.Error())}
}

// EncodeResponse serializes a response as
//
//	<status:uint8><body_len:uint32><body>
//
// using big-endian byte order.
func EncodeResponse(resp *Response) ([]byte, error) {
	if len(resp.Body) > MaxValueSize {
		return nil, ErrCommandTooLarge
	}

	buf := &bytes.Buffer{}
	buf.Grow(5 + len(resp.Body))

	buf.WriteByte(uint8(resp.Status))
	if err := binary.Write(buf, binary.BigEndian, uint32(len(resp.Body))); err != nil {
		return nil, err
	}

	buf.Write(resp.Body)

	return buf.Bytes(), nil
}

func DecodeResponse(r io.Reader) (*Response, error) {
	var status uint8
	var bodyLen uint32

	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &bodyLen); err != nil {
		return nil, err
	}
	if bodyLen > MaxValueSize {
		return nil, ErrCommandTooLarge
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Response{Status: Status(status), Body: body}, nil
}
