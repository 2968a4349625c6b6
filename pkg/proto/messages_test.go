package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	addr, err := ParseAddr("10.0.0.7:7450")
	require.NoError(t, err)
	assert.Equal(t, Addr{Host: "10.0.0.7", Port: 7450}, addr)
	assert.Equal(t, "10.0.0.7:7450", addr.String())

	for _, bad := range []string{"", "nohost", ":7450", "host:", "host:notaport", "host:0", "host:70000"} {
		_, err := ParseAddr(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestJoinRoundTrip(t *testing.T) {
	self := Addr{Host: "node-a", Port: 7450}
	line := EncodeJoin(self)
	assert.Equal(t, "Join-Discovery-Service node-a:7450\n", line)

	addr, err := ParseJoin(line)
	require.NoError(t, err)
	assert.Equal(t, self, addr)
}

func TestParseJoin_Malformed(t *testing.T) {
	for _, bad := range []string{"", "Join-Discovery-Service", "Join-Discovery-Service a:1 extra", "Last-Modified-Check f"} {
		_, err := ParseJoin(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestListingRoundTrip(t *testing.T) {
	addrs := []Addr{
		{Host: "10.0.0.1", Port: 7450},
		{Host: "10.0.0.2", Port: 7451},
	}
	block := EncodeListing(addrs)
	assert.Equal(t, "Peer-Node-Address-Listing\n10.0.0.1:7450\n10.0.0.2:7451\n\n", block)

	parsed, err := ParseListing(block)
	require.NoError(t, err)
	assert.Equal(t, addrs, parsed)
}

func TestParseListing_EmptyAndMalformed(t *testing.T) {
	// An empty mesh is a valid listing.
	parsed, err := ParseListing(EncodeListing(nil))
	require.NoError(t, err)
	assert.Empty(t, parsed)

	// Unparsable entry lines are skipped, not fatal.
	parsed, err = ParseListing("Peer-Node-Address-Listing\ngarbage\n10.0.0.1:7450\n")
	require.NoError(t, err)
	assert.Equal(t, []Addr{{Host: "10.0.0.1", Port: 7450}}, parsed)

	// A missing header is fatal.
	_, err = ParseListing("10.0.0.1:7450\n")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClaimRoundTrip(t *testing.T) {
	claim := Claim{
		Name:    "report.txt",
		ModTime: 1700000000123456789,
		Owner:   Addr{Host: "10.0.0.2", Port: 7450},
	}
	line := EncodeClaim(claim)
	assert.Equal(t, "Last-Modified report.txt 1700000000123456789 10.0.0.2:7450\n", line)

	parsed, err := ParseClaim(line)
	require.NoError(t, err)
	assert.Equal(t, claim, parsed)
}

func TestParseClaim_Malformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"Last-Modified",
		"Last-Modified report.txt 123",
		"Last-Modified report.txt notatime 10.0.0.2:7450",
		"Last-Modified report.txt -5 10.0.0.2:7450",
		"Last-Modified report.txt 123 badaddr",
		"File not found",
	} {
		_, err := ParseClaim(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestFetchHeader(t *testing.T) {
	size, err := ParseFetchHeader(EncodeFetchHeader(4096))
	require.NoError(t, err)
	assert.Equal(t, 4096, size)

	// Zero-byte files are legal.
	size, err = ParseFetchHeader(EncodeFetchHeader(0))
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	for _, bad := range []string{"File-Provision", "File-Provision x", "File-Provision -1", "File-Provision 1048577", "File not found"} {
		_, err := ParseFetchHeader(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestParseFileRequest(t *testing.T) {
	name, err := ParseFileRequest("Last-Modified-Check report.txt", VerbTimestampReq)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", name)

	name, err = ParseFileRequest("File-Provision-Request report.txt", VerbFetchReq)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", name)

	_, err = ParseFileRequest("Last-Modified-Check", VerbTimestampReq)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseFileRequest("File-Provision-Request report.txt", VerbTimestampReq)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestIndexRoundTrip(t *testing.T) {
	names := []string{"a.txt", "b.bin"}
	block := EncodeIndex(names)
	assert.Equal(t, "Index-Listing\na.txt\nb.bin\n", block)

	parsed, err := ParseIndex(block)
	require.NoError(t, err)
	assert.Equal(t, names, parsed)

	parsed, err = ParseIndex(EncodeIndex(nil))
	require.NoError(t, err)
	assert.Empty(t, parsed)

	_, err = ParseIndex("a.txt\nb.bin\n")
	assert.ErrorIs(t, err, ErrMalformed)
}
