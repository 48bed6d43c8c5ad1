package hierdb

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/0xRadioAc7iv/go-hierdb/internal"
	"github.com/0xRadioAc7iv/go-hierdb/internal/protocol"
)

var (
	// ErrNil is returned when the entry does not exist or has no data.
	ErrNil = errors.New("nil")

	// ErrServer wraps error messages reported by the server.
	ErrServer = errors.New("server error")
)

// Client is a connection to a hierdb server. The server keeps a working
// directory per connection, so ChDir affects every later call on the same
// Client. A Client is safe for concurrent use, but concurrent callers share
// that working directory.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

func Connect(opts ...Option) (*Client, error) {
	cfg := internal.DefaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Ping() error {
	_, err := c.call("ping", "", nil)
	return err
}

// List returns the entries of the working directory. Directories carry a
// trailing "/".
func (c *Client) List() ([]string, error) {
	body, err := c.call("ls", "", nil)
	if err != nil || len(body) == 0 {
		return nil, err
	}
	return strings.Split(string(body), "\n"), nil
}

// ChDir changes the working directory. ".." goes up one level and "/"
// returns to the root.
func (c *Client) ChDir(name string) error {
	_, err := c.call("cd", name, nil)
	return err
}

func (c *Client) Pwd() (string, error) {
	body, err := c.call("pwd", "", nil)
	return string(body), err
}

func (c *Client) Mkdir(name string) error {
	_, err := c.call("mkdir", name, nil)
	return err
}

func (c *Client) Touch(name string) error {
	_, err := c.call("touch", name, nil)
	return err
}

// Put stores data under name, creating the entry when it is missing.
func (c *Client) Put(name string, data []byte) error {
	_, err := c.call("put", name, data)
	return err
}

// Get returns the data stored under name, or ErrNil.
func (c *Client) Get(name string) ([]byte, error) {
	return c.call("get", name, nil)
}

func (c *Client) Unset(name string) error {
	_, err := c.call("unset", name, nil)
	return err
}

func (c *Client) Remove(name string) error {
	_, err := c.call("rm", name, nil)
	return err
}

func (c *Client) RemoveDir(name string) error {
	_, err := c.call("rmdir", name, nil)
	return err
}

func (c *Client) Stat(name string) (string, error) {
	body, err := c.call("stat", name, nil)
	return string(body), err
}

// Check runs the consistency check of the store on the server.
func (c *Client) Check() error {
	_, err := c.call("check", "", nil)
	return err
}

func (c *Client) Info() (string, error) {
	body, err := c.call("info", "", nil)
	return string(body), err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute sends a raw command and returns the undecoded response.
func (c *Client) Execute(cmd, key string, val []byte) (*protocol.Response, error) {
	return c.sendCommand(cmd, key, val)
}

func (c *Client) call(cmd, key string, val []byte) ([]byte, error) {
	resp, err := c.sendCommand(cmd, key, val)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case protocol.StatusOK:
		return resp.Body, nil
	case protocol.StatusNil:
		return nil, ErrNil
	default:
		return nil, fmt.Errorf("%w: %s", ErrServer, resp.Body)
	}
}

func (c *Client) sendCommand(cmd, key string, val []byte) (*protocol.Response, error) {
	payload, err := protocol.EncodeCommand(cmd, key, val)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.conn.Write(payload)
	if err != nil {
		return nil, err
	}

	response, err := protocol.DecodeResponse(c.conn)
	if err != nil {
		return nil, err
	}

	return response, nil
}
