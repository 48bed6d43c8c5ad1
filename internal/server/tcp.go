package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"
)

// maxPortProbes bounds how far Listen walks up from the requested port.
const maxPortProbes = 100

// Backoff between failed accepts.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Listen opens a TCP listener on host:port. When the port is taken, the
// following ports are tried in turn. Port 0 picks any free port.
func Listen(host string, port int) (net.Listener, error) {
	for n := 0; n < maxPortProbes; n++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) && port != 0 {
				port++
				continue
			}
			return nil, err
		}
		return ln, nil
	}
	return nil, fmt.Errorf("no free port below %d", port)
}

// Serve accepts connections on ln until ctx is cancelled and runs handler
// for each of them in its own goroutine. It returns once the listener is
// closed and every handler has returned.
func Serve(ctx context.Context, ln net.Listener, logger *slog.Logger, handler func(ctx context.Context, conn net.Conn)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	// When ctx is cancelled, close listener
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logger.Info("Server listening", "addr", ln.Addr().String())

	var delay time.Duration

	// Accept Loop
	for {
		conn, err := ln.Accept()
		if err != nil {
			// When ln.Close() is called, Accept() returns an error.
			// This is how we break out of the loop cleanly.
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			logger.Warn("Error accepting connection", "error", err, "retryIn", delay)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			handler(ctx, conn)
		}()
	}
}
