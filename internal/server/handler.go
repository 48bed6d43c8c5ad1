package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/0xRadioAc7iv/go-hierdb/internal/protocol"
	"github.com/0xRadioAc7iv/go-hierdb/internal/session"
)

// Handler serves the command protocol over a single store. Every connection
// gets its own session (and so its own working directory); commands of all
// sessions are serialized because the store has a single writer.
type Handler struct {
	db  *core.DB
	mu  sync.Mutex
	log *slog.Logger
}

func NewHandler(db *core.DB, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, log: logger}
}

// Sync flushes the store between commands.
func (h *Handler) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.db.Sync()
}

// ServeConn runs commands from conn until the client disconnects or ctx is
// cancelled.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log := h.log.With("remote", conn.RemoteAddr().String())
	log.Debug("Client connected")

	s := session.New(h.db, log)

	for {
		cmd, err := protocol.DecodeCommand(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("Dropping client", "error", err)
			}
			log.Debug("Client disconnected")
			return
		}

		h.mu.Lock()
		resp := s.Execute(cmd)
		h.mu.Unlock()

		if !h.reply(conn, log, resp) {
			return
		}
	}
}

func (h *Handler) reply(conn net.Conn, log *slog.Logger, resp *protocol.Response) bool {
	encoded, err := protocol.EncodeResponse(resp)
	if err != nil {
		log.Error("Error encoding response", "error", err)
		encoded, _ = protocol.EncodeResponse(protocol.Error(err))
	}

	if _, err := conn.Write(encoded); err != nil {
		log.Debug("Client disconnected", "error", err)
		return false
	}
	return true
}
