// Package proto defines the line-oriented wire protocol shared by the
// discovery service and storage nodes.
//
// Every message is UTF-8 text. Requests are a single newline-terminated
// line; replies are either a single line, a listing block (header line
// followed by one entry per line and a terminating blank line), or a
// file body preceded by a File-Provision status line.
package proto

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Wire verbs. These strings are the protocol; do not change them.
const (
	VerbJoin          = "Join-Discovery-Service"
	VerbListing       = "Peer-Node-Address-Listing"
	VerbTimestampReq  = "Last-Modified-Check"
	VerbTimestamp     = "Last-Modified"
	VerbFetchReq      = "File-Provision-Request"
	VerbFetch         = "File-Provision"
	VerbIndexReq      = "Index-Listing-Request"
	VerbIndex         = "Index-Listing"
	ReplyOK           = "OK"
	ReplyNotFound     = "File not found"
	ReplyError        = "Error processing request"
)

// MaxFileBytes is the hard ceiling on a file body transferred between
// nodes. Larger files are rejected at both ends.
const MaxFileBytes = 1 << 20 // 1 MiB

// ErrMalformed is returned when a message cannot be parsed.
var ErrMalformed = errors.New("malformed protocol message")

// Addr identifies a node's peer-protocol endpoint.
type Addr struct {
	Host string
	Port int
}

// ParseAddr parses a "host:port" string into an Addr.
func ParseAddr(s string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Addr{}, fmt.Errorf("parse address %q: %w", s, ErrMalformed)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Addr{}, fmt.Errorf("parse address %q: %w", s, ErrMalformed)
	}
	if host == "" {
		return Addr{}, fmt.Errorf("parse address %q: %w", s, ErrMalformed)
	}
	return Addr{Host: host, Port: port}, nil
}

// String formats the address as "host:port".
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a Addr) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// Claim is one node's assertion about its copy of a file: the file name,
// its modification time in unix nanoseconds, and the owning node.
// Claims are ephemeral; they exist only during conflict resolution.
type Claim struct {
	Name    string
	ModTime int64
	Owner   Addr
}

// EncodeJoin builds a join request announcing the sender's peer address.
func EncodeJoin(self Addr) string {
	return VerbJoin + " " + self.String() + "\n"
}

// ParseJoin parses a join request line and returns the joiner's address.
func ParseJoin(line string) (Addr, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != VerbJoin {
		return Addr{}, fmt.Errorf("join request %q: %w", line, ErrMalformed)
	}
	return ParseAddr(fields[1])
}

// EncodeListing builds a membership listing block: header line, one
// address per line, and a blank terminator line so subscribers can frame
// consecutive pushes on a long-lived connection.
func EncodeListing(addrs []Addr) string {
	var b strings.Builder
	b.WriteString(VerbListing)
	b.WriteByte('\n')
	for _, a := range addrs {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// ParseListing parses a full listing block. Entry lines that do not parse
// as addresses are skipped; the header must be present.
func ParseListing(block string) ([]Addr, error) {
	lines := strings.Split(block, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != VerbListing {
		return nil, fmt.Errorf("listing header: %w", ErrMalformed)
	}
	var addrs []Addr
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		addr, err := ParseAddr(line)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// EncodeTimestampQuery builds a timestamp query for the named file.
func EncodeTimestampQuery(name string) string {
	return VerbTimestampReq + " " + name + "\n"
}

// EncodeClaim formats a timestamp reply.
func EncodeClaim(c Claim) string {
	return fmt.Sprintf("%s %s %d %s\n", VerbTimestamp, c.Name, c.ModTime, c.Owner.String())
}

// ParseClaim parses a timestamp reply line into a Claim.
func ParseClaim(line string) (Claim, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != VerbTimestamp {
		return Claim{}, fmt.Errorf("timestamp reply %q: %w", line, ErrMalformed)
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || ts < 0 {
		return Claim{}, fmt.Errorf("timestamp reply %q: %w", line, ErrMalformed)
	}
	owner, err := ParseAddr(fields[3])
	if err != nil {
		return Claim{}, err
	}
	return Claim{Name: fields[1], ModTime: ts, Owner: owner}, nil
}

// EncodeFetchRequest builds a file fetch request.
func EncodeFetchRequest(name string) string {
	return VerbFetchReq + " " + name + "\n"
}

// EncodeFetchHeader builds the status line preceding a file body. The
// explicit size makes a present file distinguishable from the not-found
// sentinel even when the file's bytes happen to equal the sentinel text.
func EncodeFetchHeader(size int) string {
	return VerbFetch + " " + strconv.Itoa(size) + "\n"
}

// ParseFetchHeader parses a File-Provision status line and returns the
// body size. Sizes outside [0, MaxFileBytes] are rejected.
func ParseFetchHeader(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != VerbFetch {
		return 0, fmt.Errorf("fetch reply %q: %w", line, ErrMalformed)
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil || size < 0 || size > MaxFileBytes {
		return 0, fmt.Errorf("fetch reply size %q: %w", fields[1], ErrMalformed)
	}
	return size, nil
}

// ParseFileRequest parses the single-argument request line used by both
// timestamp queries and fetch requests, returning the file name.
func ParseFileRequest(line, verb string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != verb {
		return "", fmt.Errorf("request %q: %w", line, ErrMalformed)
	}
	return fields[1], nil
}

// EncodeIndex builds an index listing block from local file names.
func EncodeIndex(names []string) string {
	var b strings.Builder
	b.WriteString(VerbIndex)
	b.WriteByte('\n')
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseIndex parses an index listing block into file names.
func ParseIndex(block string) ([]string, error) {
	lines := strings.Split(block, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != VerbIndex {
		return nil, fmt.Errorf("index header: %w", ErrMalformed)
	}
	var names []string
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
