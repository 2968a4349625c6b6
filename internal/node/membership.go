package node

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meshstore/meshstore/internal/transport"
	"github.com/meshstore/meshstore/pkg/proto"
)

// peerCache holds the node's view of the membership. It is written only
// by the membership tasks and read by resolution; the listing is always
// replaced wholesale, never merged.
type peerCache struct {
	mu    sync.RWMutex
	addrs []proto.Addr
}

// Replace swaps the cached listing atomically.
func (c *peerCache) Replace(addrs []proto.Addr) {
	c.mu.Lock()
	c.addrs = addrs
	c.mu.Unlock()
}

// Snapshot returns a copy of the cached listing.
func (c *peerCache) Snapshot() []proto.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]proto.Addr, len(c.addrs))
	copy(out, c.addrs)
	return out
}

// applyListing filters the node's own address out of a received listing
// and installs the rest as the new peer cache.
func (n *Node) applyListing(addrs []proto.Addr) {
	peers := make([]proto.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a != n.self {
			peers = append(peers, a)
		}
	}
	n.peers.Replace(peers)
	if n.metrics != nil {
		n.metrics.KnownPeers.Set(float64(len(peers)))
	}
	n.logger.Debug().Int("peers", len(peers)).Msg("peer listing replaced")
}

// Peers returns the currently cached peer addresses.
func (n *Node) Peers() []proto.Addr {
	return n.peers.Snapshot()
}

// RunJoin registers this node with the discovery service. It runs to the
// first success and stops; failures are retried indefinitely.
func (n *Node) RunJoin(ctx context.Context) {
	for {
		err := n.joinOnce()
		if err == nil {
			n.logger.Info().Str("discovery", n.cfg.Discovery).Msg("joined discovery service")
			return
		}
		n.logger.Warn().Err(err).Msg("join failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.cfg.RejoinEvery()):
		}
	}
}

func (n *Node) joinOnce() error {
	block, err := transport.RequestBlock(n.cfg.Discovery, n.cfg.DialDeadline(), proto.EncodeJoin(n.self), maxListingBytes)
	if err != nil {
		return err
	}
	addrs, err := proto.ParseListing(block)
	if err != nil {
		return err
	}
	n.applyListing(addrs)
	return nil
}

// RunSubscribe holds a channel to the discovery service and consumes
// listing pushes for as long as the remote keeps the connection open.
// An empty read or I/O error tears the channel down; it is rebuilt after
// the rejoin interval. Runs until ctx is cancelled.
func (n *Node) RunSubscribe(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.subscribeOnce(); err != nil {
			n.logger.Debug().Err(err).Msg("subscribe channel lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.cfg.RejoinEvery()):
		}
	}
}

// subscribeOnce announces this node, then reads listing pushes until the
// channel breaks. Reads block indefinitely; only the remote closing or a
// transport error ends the loop.
func (n *Node) subscribeOnce() error {
	conn, err := transport.Dial(n.cfg.Discovery, n.cfg.DialDeadline())
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, proto.EncodeJoin(n.self)); err != nil {
		return fmt.Errorf("announce on subscribe channel: %w", err)
	}
	// The dial deadline covered the handshake; pushes arrive whenever
	// the discovery service sends them.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	br := bufio.NewReader(conn)
	for {
		header, err := transport.ReadLine(br)
		if err != nil {
			return err
		}
		if header != proto.VerbListing {
			return fmt.Errorf("subscribe push %q: %w", header, proto.ErrMalformed)
		}
		n.applyListing(readListingBody(br))
		if _, err := io.WriteString(conn, proto.ReplyOK+"\n"); err != nil {
			return err
		}
	}
}
