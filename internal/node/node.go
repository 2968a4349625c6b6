// Package node implements a storage node: the peer protocol server, the
// discovery membership client, and the last-write-wins replication
// engine that decides which copy of a file is authoritative.
package node

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshstore/meshstore/internal/config"
	"github.com/meshstore/meshstore/internal/metrics"
	"github.com/meshstore/meshstore/internal/store"
	"github.com/meshstore/meshstore/internal/transport"
	"github.com/meshstore/meshstore/pkg/proto"
)

// maxListingBytes caps a membership listing read. Listings are a few
// dozen bytes per node; 64 KiB is generous.
const maxListingBytes = 1 << 16

// Node is a single storage server instance.
type Node struct {
	cfg     *config.NodeConfig
	store   *store.Store
	metrics *metrics.NodeMetrics
	srv     *transport.Server
	self    proto.Addr
	peers   *peerCache
	logger  zerolog.Logger
}

// New binds the peer listener and assembles a node. The advertised
// address combines the configured host with the actually bound port, so
// ephemeral ports (":0") work in tests.
func New(cfg *config.NodeConfig, st *store.Store, m *metrics.NodeMetrics) (*Node, error) {
	srv, err := transport.Listen(cfg.PeerListen, "node")
	if err != nil {
		return nil, err
	}
	self := proto.Addr{
		Host: cfg.Host,
		Port: srv.Addr().(*net.TCPAddr).Port,
	}
	return &Node{
		cfg:     cfg,
		store:   st,
		metrics: m,
		srv:     srv,
		self:    self,
		peers:   &peerCache{},
		logger:  log.With().Str("component", "node").Str("self", self.String()).Logger(),
	}, nil
}

// Self returns the node's advertised peer address.
func (n *Node) Self() proto.Addr {
	return n.self
}

// Store exposes the node's local file store.
func (n *Node) Store() *store.Store {
	return n.store
}

// Run starts the membership tasks and serves peer requests until ctx is
// cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info().Str("peer_listen", n.srv.Addr().String()).Msg("node serving peer protocol")
	go n.RunJoin(ctx)
	go n.RunSubscribe(ctx)
	return n.srv.Serve(ctx, n.handleConn)
}

// Close shuts the peer listener down.
func (n *Node) Close() error {
	return n.srv.Close()
}

// handleConn serves exactly one peer request and closes the connection.
// Any dispatch failure is answered with the generic error sentinel; the
// accept loop never sees it.
func (n *Node) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(config.DefaultDialTimeout))

	br := bufio.NewReader(conn)
	line, err := transport.ReadLine(br)
	if err != nil {
		n.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("peer request read failed")
		return
	}

	verb := line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		verb = line[:i]
	}
	if n.metrics != nil {
		n.metrics.PeerRequests.WithLabelValues(verb).Inc()
	}

	switch verb {
	case proto.VerbTimestampReq:
		n.handleTimestampQuery(conn, line)
	case proto.VerbFetchReq:
		n.handleFetch(conn, line)
	case proto.VerbIndexReq:
		n.handleIndex(conn)
	case proto.VerbListing:
		n.handleMembershipPush(conn, br)
	default:
		n.logger.Debug().Str("verb", verb).Msg("unknown peer request")
		n.reply(conn, proto.ReplyError+"\n")
	}
}

// handleTimestampQuery answers with the local claim, or the not-found
// sentinel. Invalid names and missing files are indistinguishable here.
func (n *Node) handleTimestampQuery(conn net.Conn, line string) {
	name, err := proto.ParseFileRequest(line, proto.VerbTimestampReq)
	if err != nil {
		n.reply(conn, proto.ReplyError+"\n")
		return
	}
	claim, ok := n.localClaim(name)
	if !ok {
		n.reply(conn, proto.ReplyNotFound+"\n")
		return
	}
	n.reply(conn, proto.EncodeClaim(claim))
}

// handleFetch streams the local file bytes behind a sized status line.
func (n *Node) handleFetch(conn net.Conn, line string) {
	name, err := proto.ParseFileRequest(line, proto.VerbFetchReq)
	if err != nil {
		n.reply(conn, proto.ReplyError+"\n")
		return
	}
	data, err := n.store.Get(name)
	if err != nil {
		n.reply(conn, proto.ReplyNotFound+"\n")
		return
	}
	if len(data) > proto.MaxFileBytes {
		n.logger.Warn().Str("file", name).Int("size", len(data)).Msg("file exceeds transfer cap")
		n.reply(conn, proto.ReplyError+"\n")
		return
	}
	n.reply(conn, proto.EncodeFetchHeader(len(data)))
	if _, err := conn.Write(data); err != nil {
		n.logger.Debug().Err(err).Str("file", name).Msg("fetch reply write failed")
	}
}

// handleIndex answers with the local file index.
func (n *Node) handleIndex(conn net.Conn) {
	names, err := n.store.List()
	if err != nil {
		n.logger.Warn().Err(err).Msg("index listing failed")
		n.reply(conn, proto.ReplyError+"\n")
		return
	}
	n.reply(conn, proto.EncodeIndex(names))
}

// handleMembershipPush consumes a listing push from the discovery
// service, replaces the peer cache wholesale, and acknowledges.
func (n *Node) handleMembershipPush(conn net.Conn, br *bufio.Reader) {
	addrs := readListingBody(br)
	n.applyListing(addrs)
	n.reply(conn, proto.ReplyOK+"\n")
}

func (n *Node) reply(conn net.Conn, s string) {
	if _, err := io.WriteString(conn, s); err != nil {
		n.logger.Debug().Err(err).Msg("peer reply write failed")
	}
}

// readListingBody reads listing entry lines up to the blank terminator
// (or EOF), skipping entries that do not parse.
func readListingBody(br *bufio.Reader) []proto.Addr {
	var addrs []proto.Addr
	for {
		line, err := transport.ReadLine(br)
		if err != nil || line == "" {
			return addrs
		}
		if a, err := proto.ParseAddr(line); err == nil {
			addrs = append(addrs, a)
		}
	}
}

// QueryIndex asks the node at addr for its local file index.
func QueryIndex(addr string, timeout time.Duration) ([]string, error) {
	block, err := transport.RequestBlock(addr, timeout, proto.VerbIndexReq+"\n", maxListingBytes)
	if err != nil {
		return nil, err
	}
	return proto.ParseIndex(block)
}
