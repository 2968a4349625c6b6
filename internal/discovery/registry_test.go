package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshstore/meshstore/pkg/proto"
)

func addr(host string, port int) proto.Addr {
	return proto.Addr{Host: host, Port: port}
}

func TestRegister_Idempotent(t *testing.T) {
	r := NewRegistry()

	listing := r.Register(addr("10.0.0.1", 7450))
	assert.Equal(t, []proto.Addr{addr("10.0.0.1", 7450)}, listing)

	// Re-registering the same node changes nothing.
	listing = r.Register(addr("10.0.0.1", 7450))
	assert.Len(t, listing, 1)
	assert.Equal(t, 1, r.Len())

	// The join reply includes the joiner itself.
	listing = r.Register(addr("10.0.0.2", 7450))
	assert.Equal(t, []proto.Addr{addr("10.0.0.1", 7450), addr("10.0.0.2", 7450)}, listing)
}

func TestMarkFailure_EvictsAtThreshold(t *testing.T) {
	r := NewRegistry()
	x := addr("10.0.0.1", 7450)
	y := addr("10.0.0.2", 7450)
	r.Register(x)
	r.Register(y)

	assert.False(t, r.MarkFailure(x, 3))
	assert.False(t, r.MarkFailure(x, 3))
	assert.True(t, r.MarkFailure(x, 3), "third consecutive miss evicts")

	// The next listing omits the evicted node.
	assert.Equal(t, []proto.Addr{y}, r.Snapshot())

	// Marking an unknown node is a no-op.
	assert.False(t, r.MarkFailure(x, 3))
}

func TestMarkSuccess_ResetsCounter(t *testing.T) {
	r := NewRegistry()
	x := addr("10.0.0.1", 7450)
	r.Register(x)

	require.False(t, r.MarkFailure(x, 3))
	require.False(t, r.MarkFailure(x, 3))
	r.MarkSuccess(x)

	// The counter restarted, so two more misses don't evict.
	assert.False(t, r.MarkFailure(x, 3))
	assert.False(t, r.MarkFailure(x, 3))
	assert.True(t, r.MarkFailure(x, 3))
}
