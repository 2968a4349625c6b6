package node

import (
	"bufio"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/meshstore/meshstore/internal/store"
	"github.com/meshstore/meshstore/internal/transport"
	"github.com/meshstore/meshstore/pkg/proto"
)

// localClaim builds this node's claim for a file. Invalid names and
// missing files both report absent.
func (n *Node) localClaim(name string) (proto.Claim, bool) {
	if err := store.ValidateName(name); err != nil {
		return proto.Claim{}, false
	}
	mt, err := n.store.ModTime(name)
	if err != nil {
		return proto.Claim{}, false
	}
	return proto.Claim{Name: name, ModTime: mt.UnixNano(), Owner: n.self}, true
}

// Resolve runs last-write-wins conflict resolution for a file: starting
// from the local claim, every cached peer is queried sequentially and a
// strictly greater timestamp takes over. Unreachable peers and garbage
// replies are skipped; they have no opinion. The second return value is
// false when no copy exists anywhere.
func (n *Node) Resolve(name string) (proto.Claim, bool) {
	if n.metrics != nil {
		n.metrics.ResolutionsTotal.Inc()
	}

	best, found := n.localClaim(name)
	if !found {
		best = proto.Claim{Name: name, Owner: n.self}
	}

	for _, peer := range n.peers.Snapshot() {
		claim, ok, err := n.queryPeer(peer, name)
		if err != nil {
			if n.metrics != nil {
				n.metrics.PeerQueryFailures.Inc()
			}
			n.logger.Debug().Err(err).Str("peer", peer.String()).Str("file", name).Msg("peer timestamp query failed")
			continue
		}
		if !ok {
			continue
		}
		if !found || claim.ModTime > best.ModTime {
			best = claim
			found = true
		}
	}
	return best, found
}

// queryPeer asks one peer for its timestamp claim. A not-found reply is
// (zero, false, nil): the peer answered and has no copy.
func (n *Node) queryPeer(peer proto.Addr, name string) (proto.Claim, bool, error) {
	line, err := transport.RequestLine(peer.String(), n.cfg.DialDeadline(), proto.EncodeTimestampQuery(name))
	if err != nil {
		return proto.Claim{}, false, err
	}
	if line == proto.ReplyNotFound {
		return proto.Claim{}, false, nil
	}
	claim, err := proto.ParseClaim(line)
	if err != nil {
		return proto.Claim{}, false, err
	}
	return claim, true, nil
}

// fetchFrom retrieves a file's bytes from its authoritative owner.
func (n *Node) fetchFrom(owner proto.Addr, name string) ([]byte, error) {
	conn, err := transport.Dial(owner.String(), n.cfg.DialDeadline())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, proto.EncodeFetchRequest(name)); err != nil {
		return nil, fmt.Errorf("write fetch request: %w", err)
	}

	br := bufio.NewReader(conn)
	header, err := transport.ReadLine(br)
	if err != nil {
		return nil, fmt.Errorf("read fetch reply: %w", err)
	}
	if header == proto.ReplyNotFound {
		return nil, fmt.Errorf("owner %s no longer has %s", owner, name)
	}
	size, err := proto.ParseFetchHeader(header)
	if err != nil {
		return nil, err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("read fetch body: %w", err)
	}
	return data, nil
}

// ResolveAndServe is the read path: resolve the authoritative copy,
// fetch it from the winning peer if that isn't us, and serve the local
// bytes. A failed fetch from the winner is the only hard failure; there
// is no silent fallback to a stale local copy.
func (n *Node) ResolveAndServe(name string) ([]byte, proto.Claim, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, proto.Claim{}, err
	}

	opID := uuid.NewString()
	claim, found := n.Resolve(name)
	if !found {
		return nil, proto.Claim{}, store.ErrNotFound
	}

	if claim.Owner != n.self {
		n.logger.Info().
			Str("op", opID).
			Str("file", name).
			Str("owner", claim.Owner.String()).
			Int64("mod_time", claim.ModTime).
			Msg("remote copy is newer, fetching")

		data, err := n.fetchFrom(claim.Owner, name)
		if err != nil {
			return nil, claim, fmt.Errorf("fetch %s from authoritative owner %s: %w", name, claim.Owner, err)
		}
		if err := n.store.Put(name, data); err != nil {
			return nil, claim, fmt.Errorf("store fetched copy of %s: %w", name, err)
		}
		if n.metrics != nil {
			n.metrics.FetchesTotal.Inc()
			n.metrics.FetchBytesTotal.Add(float64(len(data)))
		}
	}

	data, err := n.store.Get(name)
	if err != nil {
		return nil, claim, err
	}
	return data, claim, nil
}

// AcceptUpload stores client-provided bytes locally. Replication to
// peers happens lazily, on their next read of the file.
func (n *Node) AcceptUpload(name string, data []byte) error {
	if len(data) > proto.MaxFileBytes {
		return fmt.Errorf("upload exceeds %d byte cap", proto.MaxFileBytes)
	}
	if err := n.store.Put(name, data); err != nil {
		return err
	}
	if n.metrics != nil {
		n.metrics.UploadsTotal.Inc()
	}
	n.logger.Info().Str("file", name).Int("size", len(data)).Msg("file stored")
	return nil
}

// Index lists the files stored locally.
func (n *Node) Index() ([]string, error) {
	return n.store.List()
}
