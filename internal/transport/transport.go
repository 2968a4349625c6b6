// Package transport provides deadline-bounded TCP helpers for the
// one-request-per-connection peer protocol.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dial opens a TCP connection with an absolute deadline covering every
// read and write on it. Callers close the connection after one exchange.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline on %s: %w", addr, err)
	}
	return conn, nil
}

// RequestLine performs a one-shot exchange: dial, send the payload, read
// a single newline-terminated reply line, close.
func RequestLine(addr string, timeout time.Duration, payload string) (string, error) {
	conn, err := Dial(addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, payload); err != nil {
		return "", fmt.Errorf("write to %s: %w", addr, err)
	}
	line, err := ReadLine(bufio.NewReader(conn))
	if err != nil {
		return "", fmt.Errorf("read from %s: %w", addr, err)
	}
	return line, nil
}

// RequestBlock performs a one-shot exchange whose reply is everything the
// remote writes before closing, capped at max bytes.
func RequestBlock(addr string, timeout time.Duration, payload string, max int64) (string, error) {
	conn, err := Dial(addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, payload); err != nil {
		return "", fmt.Errorf("write to %s: %w", addr, err)
	}
	data, err := ReadCapped(conn, max)
	if err != nil {
		return "", fmt.Errorf("read from %s: %w", addr, err)
	}
	return string(data), nil
}

// ReadLine reads one newline-terminated line and strips the terminator.
func ReadLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadCapped reads until EOF and fails if the remote sends more than max
// bytes. The protocol has no length framing for one-shot replies, so the
// cap is the only bound on a misbehaving remote.
func ReadCapped(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("reply exceeds %d byte cap", max)
	}
	return data, nil
}

// Server accepts peer-protocol connections and hands each one to an
// isolated handler goroutine.
type Server struct {
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds a TCP listener on addr.
func Listen(addr, component string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		ln:     ln,
		logger: log.With().Str("component", component).Logger(),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled. Each connection is
// served by its own goroutine; a handler failure never stops the loop.
func (s *Server) Serve(ctx context.Context, handler func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		go func() {
			defer conn.Close()
			handler(conn)
		}()
	}
}

// Close shuts the listener down.
func (s *Server) Close() error {
	return s.ln.Close()
}
