// Package session interprets shell style commands against one cursor of an
// open store. A session behaves like a working directory: "cd" moves the
// cursor, and every other command resolves names in the current directory.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/0xRadioAc7iv/go-hierdb/internal/protocol"
	"github.com/dustin/go-humanize"
)

var (
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrUsage        = errors.New("usage")
)

type Session struct {
	db     *core.DB
	cursor *core.Cursor
	log    *slog.Logger
}

func New(db *core.DB, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{db: db, cursor: db.NewCursor(), log: logger}
}

// Execute runs one command and converts its outcome into a response. Missing
// entries and missing data are reported as StatusNil, every other failure as
// StatusError.
func (s *Session) Execute(cmd *protocol.Command) *protocol.Response {
	body, err := s.run(strings.ToLower(cmd.Cmd), cmd.Key, cmd.Val)
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNoData):
		return protocol.Nil()
	case err != nil:
		s.log.Debug("Command failed", "cmd", cmd.Cmd, "name", cmd.Key, "error", err)
		return protocol.Error(err)
	default:
		return &protocol.Response{Status: protocol.StatusOK, Body: body}
	}
}

func (s *Session) run(cmd, name string, val []byte) ([]byte, error) {
	switch cmd {
	case "ping":
		return []byte("PONG!"), nil
	case "help":
		return []byte(strings.TrimSpace(helpText)), nil
	case "pwd":
		return []byte(s.Pwd()), nil
	case "ls":
		return s.listing()
	case "info":
		return []byte(s.info()), nil
	case "check":
		if err := s.db.AssertAllBlocksValid(); err != nil {
			return nil, err
		}
		return []byte("ok"), nil
	}

	if name == "" {
		return nil, fmt.Errorf("%w: %s <name>", ErrUsage, cmd)
	}

	switch cmd {
	case "cd":
		return ok(s.ChDir(name))
	case "mkdir":
		return ok(s.AddDirectory(name))
	case "touch":
		return ok(s.Touch(name))
	case "put":
		return ok(s.AddFile(name, val))
	case "get":
		return s.Get(name)
	case "unset":
		return ok(s.Unset(name))
	case "rm":
		return ok(s.RemoveFile(name))
	case "rmdir":
		return ok(s.RemoveDirectory(name))
	case "stat":
		return s.stat(name)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func ok(err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return []byte("ok"), nil
}

// Pwd renders the cursor position as an absolute path.
func (s *Session) Pwd() string {
	return "/" + strings.Join(s.cursor.Path(), "/")
}

// ChDir descends into the directory name. ".." ascends one level and "/"
// returns to the root.
func (s *Session) ChDir(name string) error {
	switch name {
	case "/":
		for !s.cursor.AtRoot() {
			if err := s.cursor.Ascend(); err != nil {
				return err
			}
		}
		return nil
	case "..":
		return s.cursor.Ascend()
	}

	e, err := s.cursor.Lookup(name)
	if err != nil {
		return err
	}

	err = s.cursor.DescendInto(e)
	if errors.Is(err, core.ErrCannotDescend) {
		return fmt.Errorf("%w: %s", ErrNotDirectory, name)
	}
	return err
}

// AddDirectory creates name as an empty directory.
func (s *Session) AddDirectory(name string) error {
	e, err := s.cursor.CreateEntry(name)
	if err != nil {
		return err
	}
	return e.CreateChildArray()
}

// Touch creates name as an entry without data unless it already exists.
func (s *Session) Touch(name string) error {
	_, err := s.cursor.CreateEntry(name)
	if errors.Is(err, core.ErrDuplicateName) {
		return nil
	}
	return err
}

// AddFile stores data under name, creating the entry when it is missing.
func (s *Session) AddFile(name string, data []byte) error {
	e, err := s.cursor.Lookup(name)
	if errors.Is(err, core.ErrNotFound) {
		e, err = s.cursor.CreateEntry(name)
	}
	if err != nil {
		return err
	}
	return e.SetData(data)
}

func (s *Session) Get(name string) ([]byte, error) {
	e, err := s.cursor.Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.Data()
}

// Unset removes the data of name and keeps the entry.
func (s *Session) Unset(name string) error {
	e, err := s.cursor.Lookup(name)
	if err != nil {
		return err
	}
	return e.RemoveData()
}

// RemoveFile deletes name together with its data. Directories are refused.
func (s *Session) RemoveFile(name string) error {
	e, err := s.cursor.Lookup(name)
	if err != nil {
		return err
	}

	dir, err := e.CanDescend()
	if err != nil {
		return err
	}
	if dir {
		return fmt.Errorf("%w: %s", ErrIsDirectory, name)
	}

	if err := e.RemoveData(); err != nil && !errors.Is(err, core.ErrNoData) {
		return err
	}
	return e.Delete()
}

// RemoveDirectory deletes the empty directory name. Directories that
// carry data keep their entry and only lose the child array.
func (s *Session) RemoveDirectory(name string) error {
	e, err := s.cursor.Lookup(name)
	if err != nil {
		return err
	}

	err = e.DeleteChildArray()
	if errors.Is(err, core.ErrCannotDescend) {
		return fmt.Errorf("%w: %s", ErrNotDirectory, name)
	}
	if err != nil {
		return err
	}

	err = e.Delete()
	if errors.Is(err, core.ErrEntryNotRemovable) {
		s.log.Debug("Directory keeps its entry for its data", "name", name)
		return nil
	}
	return err
}

func (s *Session) listing() ([]byte, error) {
	names, err := s.cursor.Entries()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, name := range names {
		e, err := s.cursor.Lookup(name)
		if err != nil {
			return nil, err
		}
		dir, err := e.CanDescend()
		if err != nil {
			return nil, err
		}

		b.WriteString(name)
		if dir {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}

	return []byte(strings.TrimSuffix(b.String(), "\n")), nil
}

func (s *Session) stat(name string) ([]byte, error) {
	e, err := s.cursor.Lookup(name)
	if err != nil {
		return nil, err
	}

	dir, err := e.CanDescend()
	if err != nil {
		return nil, err
	}

	size := "none"
	data, err := e.Data()
	switch {
	case err == nil:
		size = humanize.IBytes(uint64(len(data)))
	case !errors.Is(err, core.ErrNoData):
		return nil, err
	}

	kind := "file"
	if dir {
		kind = "directory"
	}

	return []byte(fmt.Sprintf("name: %s\ntype: %s\ndata: %s", name, kind, size)), nil
}

func (s *Session) info() string {
	st := s.db.Stats()

	return fmt.Sprintf(
		"path: %s\nid: %s\ncreated: %s\nblock size: %s\nblocks: %s (%s free)\nfile size: %s",
		st.Path,
		st.StoreID,
		humanize.Time(st.Created),
		humanize.IBytes(uint64(st.BlockSize)),
		humanize.Comma(int64(st.Blocks)),
		humanize.Comma(int64(st.FreeBlocks)),
		humanize.IBytes(st.FileSize),
	)
}

const helpText = `
Available Commands:

PING
  Check if the server is alive.
  Response: PONG!

LS
  List the current directory. Directories end in "/".

CD <name> | .. | /
  Enter a directory, go up one level or return to the root.

PWD
  Print the current directory.

MKDIR <name>
  Create an empty directory.

TOUCH <name>
  Create an entry without data unless it exists.

PUT <name> <data>
  Store data under name, creating the entry if needed.

GET <name>
  Print the data stored under name.
  Response: data | nil

UNSET <name>
  Remove the data of name and keep the entry.

RM <name>
  Delete a file and its data.

RMDIR <name>
  Delete an empty directory.

STAT <name>
  Describe an entry.

CHECK
  Verify the consistency of the whole store.

INFO
  Show store statistics.

HELP (cli only)
  Show this help message.

EXIT (cli only)
  Close the client connection.
`
