package discovery

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshstore/meshstore/internal/config"
	"github.com/meshstore/meshstore/internal/metrics"
	"github.com/meshstore/meshstore/internal/transport"
	"github.com/meshstore/meshstore/pkg/proto"
)

// Server is the discovery service: it accepts join requests and runs the
// periodic membership push cycle.
type Server struct {
	cfg     *config.DiscoveryConfig
	reg     *Registry
	srv     *transport.Server
	metrics *metrics.DiscoveryMetrics
}

// NewServer binds the discovery listener.
func NewServer(cfg *config.DiscoveryConfig, m *metrics.DiscoveryMetrics) (*Server, error) {
	srv, err := transport.Listen(cfg.Listen, "discovery")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		reg:     NewRegistry(),
		srv:     srv,
		metrics: m,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.srv.Addr().String()
}

// Registry exposes the node registry.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Run serves join requests and drives the update cycle until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Str("listen", s.Addr()).Msg("discovery service listening")
	go s.runUpdateCycle(ctx)
	return s.srv.Serve(ctx, s.handleConn)
}

// handleConn reads exactly one join message, registers the node, and
// replies synchronously with the full listing.
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	_ = conn.SetDeadline(time.Now().Add(config.DefaultDialTimeout))

	line, err := transport.ReadLine(bufio.NewReader(conn))
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("join read failed")
		return
	}
	addr, err := proto.ParseJoin(line)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("rejecting malformed join")
		return
	}

	listing := s.reg.Register(addr)
	if s.metrics != nil {
		s.metrics.JoinsTotal.Inc()
		s.metrics.RegisteredNodes.Set(float64(len(listing)))
	}

	if _, err := io.WriteString(conn, proto.EncodeListing(listing)); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("join reply failed")
		return
	}
	log.Info().Str("node", addr.String()).Int("members", len(listing)).Msg("node registered")
}

// runUpdateCycle pushes the membership listing to every node on each
// tick. A slow node delays the cycle only by its own push deadline.
func (s *Server) runUpdateCycle(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.UpdateEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pushAll()
		}
	}
}

// pushAll snapshots the membership once, pushes the listing to each
// member sequentially, and applies success/failure bookkeeping. Eviction
// happens as a side effect of the third consecutive failed push.
func (s *Server) pushAll() {
	members := s.reg.Snapshot()
	if len(members) == 0 {
		return
	}
	payload := proto.EncodeListing(members)

	for _, addr := range members {
		if s.metrics != nil {
			s.metrics.PushesTotal.Inc()
		}
		if s.push(addr, payload) {
			s.reg.MarkSuccess(addr)
			continue
		}
		if s.metrics != nil {
			s.metrics.PushFailures.Inc()
		}
		if s.reg.MarkFailure(addr, s.cfg.EvictAfter) {
			log.Info().Str("node", addr.String()).Int("missed", s.cfg.EvictAfter).Msg("node evicted")
			if s.metrics != nil {
				s.metrics.EvictionsTotal.Inc()
			}
		} else {
			log.Debug().Str("node", addr.String()).Msg("membership push missed")
		}
	}

	if s.metrics != nil {
		s.metrics.RegisteredNodes.Set(float64(s.reg.Len()))
	}
}

// push delivers one listing over a fresh connection and waits for the
// acknowledgment within the push deadline.
func (s *Server) push(addr proto.Addr, payload string) bool {
	reply, err := transport.RequestLine(addr.String(), s.cfg.PushDeadline(), payload)
	if err != nil {
		return false
	}
	return reply == proto.ReplyOK
}
