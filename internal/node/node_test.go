package node

import (
	"bufio"
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshstore/meshstore/internal/config"
	"github.com/meshstore/meshstore/internal/metrics"
	"github.com/meshstore/meshstore/internal/store"
	"github.com/meshstore/meshstore/internal/transport"
	"github.com/meshstore/meshstore/pkg/proto"
	"github.com/meshstore/meshstore/testutil"
)

// newTestNode builds a node on an ephemeral port with a temp store. The
// discovery address defaults to a black hole; membership tests override
// it. Only the peer server is started.
func newTestNode(t *testing.T, discovery string) *Node {
	t.Helper()
	if discovery == "" {
		discovery = "127.0.0.1:1" // nothing listens there
	}
	cfg := &config.NodeConfig{
		Host:           "127.0.0.1",
		PeerListen:     "127.0.0.1:0",
		Discovery:      discovery,
		DialTimeout:    "500ms",
		RejoinInterval: "50ms",
		Storage:        config.StorageConfig{Dir: t.TempDir()},
	}
	cfg.ApplyDefaults()

	st, err := store.New(cfg.Storage.Dir, cfg.Storage.Compress)
	require.NoError(t, err)

	n, err := New(cfg, st, metrics.NewNodeMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = n.srv.Serve(ctx, n.handleConn) }()
	t.Cleanup(cancel)
	return n
}

// request performs one raw peer-protocol exchange and returns everything
// the node wrote back.
func request(t *testing.T, n *Node, payload string) string {
	t.Helper()
	reply, err := transport.RequestBlock(n.Self().String(), time.Second, payload, proto.MaxFileBytes+1024)
	require.NoError(t, err)
	return reply
}

func TestTimestampQuery(t *testing.T) {
	n := newTestNode(t, "")
	require.NoError(t, n.store.Put("report.txt", []byte("data")))

	mt := time.Unix(1700000000, 0)
	testutil.SetModTime(t, filepath.Join(n.store.Dir(), "report.txt"), mt)

	reply := request(t, n, "Last-Modified-Check report.txt\n")
	claim, err := proto.ParseClaim(reply[:len(reply)-1]) // strip trailing newline
	require.NoError(t, err)
	assert.Equal(t, "report.txt", claim.Name)
	assert.Equal(t, mt.UnixNano(), claim.ModTime)
	assert.Equal(t, n.Self(), claim.Owner)
}

func TestTimestampQuery_AbsentAndInvalidLookAlike(t *testing.T) {
	n := newTestNode(t, "")

	missing := request(t, n, "Last-Modified-Check nope.txt\n")
	invalid := request(t, n, "Last-Modified-Check ../etc/passwd\n")
	assert.Equal(t, proto.ReplyNotFound+"\n", missing)
	assert.Equal(t, invalid, missing)
}

func TestFetch_RoundTrip(t *testing.T) {
	n := newTestNode(t, "")
	content := []byte("some\x00binary\ncontent")
	require.NoError(t, n.store.Put("blob.bin", content))

	conn, err := net.Dial("tcp", n.Self().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "File-Provision-Request blob.bin\n")
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	header, err := transport.ReadLine(br)
	require.NoError(t, err)
	size, err := proto.ParseFetchHeader(header)
	require.NoError(t, err)

	data := make([]byte, size)
	_, err = io.ReadFull(br, data)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFetch_SentinelContentIsDistinguishable(t *testing.T) {
	n := newTestNode(t, "")

	// A file whose bytes equal the not-found sentinel must still be
	// served as content, not mistaken for absence.
	require.NoError(t, n.store.Put("tricky.txt", []byte(proto.ReplyNotFound)))

	reply := request(t, n, "File-Provision-Request tricky.txt\n")
	assert.Equal(t, proto.EncodeFetchHeader(len(proto.ReplyNotFound))+proto.ReplyNotFound, reply)

	// Whereas a genuinely missing file gets the bare sentinel line.
	reply = request(t, n, "File-Provision-Request gone.txt\n")
	assert.Equal(t, proto.ReplyNotFound+"\n", reply)
}

func TestIndexListing(t *testing.T) {
	n := newTestNode(t, "")
	require.NoError(t, n.store.Put("b.txt", []byte("b")))
	require.NoError(t, n.store.Put("a.txt", []byte("a")))

	names, err := QueryIndex(n.Self().String(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestUnknownVerb(t *testing.T) {
	n := newTestNode(t, "")
	reply := request(t, n, "Make-Me-A-Sandwich\n")
	assert.Equal(t, proto.ReplyError+"\n", reply)

	// The server still answers the next request.
	reply = request(t, n, "Index-Listing-Request\n")
	assert.Equal(t, proto.VerbIndex+"\n", reply)
}

func TestMembershipPush_AcknowledgedAndApplied(t *testing.T) {
	n := newTestNode(t, "")
	other := proto.Addr{Host: "10.0.0.9", Port: 7450}

	payload := proto.EncodeListing([]proto.Addr{n.Self(), other})
	reply, err := transport.RequestLine(n.Self().String(), time.Second, payload)
	require.NoError(t, err)
	assert.Equal(t, proto.ReplyOK, reply)

	// The cache was replaced wholesale, with self filtered out.
	assert.Equal(t, []proto.Addr{other}, n.Peers())
}
