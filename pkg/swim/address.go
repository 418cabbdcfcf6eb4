// Package swim implements a SWIM-style membership and failure-detection
// engine with a Slush/Snowball binary consensus overlay sharing its
// membership view.
package swim

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Address is the opaque, hashable, orderable identity of a cluster peer.
// It wraps a "host:port" endpoint. Peers carry no separate logical ID —
// two Addresses are the same peer iff their string forms are equal.
type Address struct {
	host string
	port uint16
}

// ParseAddress parses a "host:port" endpoint into an Address.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("swim: parse address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("swim: parse address %q: invalid port: %w", s, err)
	}
	if host == "" {
		return Address{}, fmt.Errorf("swim: parse address %q: empty host", s)
	}
	return Address{host: host, port: uint16(port)}, nil
}

// MustParseAddress is ParseAddress for call sites that already validated
// their input (flags, test fixtures). It panics on a malformed address.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the address back to "host:port" form. Round-trips with
// ParseAddress for any value ParseAddress can produce.
func (a Address) String() string {
	return net.JoinHostPort(a.host, strconv.FormatUint(uint64(a.port), 10))
}

// IsZero reports whether a is the zero Address (no host parsed).
func (a Address) IsZero() bool {
	return a.host == "" && a.port == 0
}

// Compare gives Address a total order: host lexically, then port
// numerically. Used by callers that need deterministic iteration order
// over a set of addresses (e.g. tests).
func (a Address) Compare(b Address) int {
	if c := strings.Compare(a.host, b.host); c != 0 {
		return c
	}
	switch {
	case a.port < b.port:
		return -1
	case a.port > b.port:
		return 1
	default:
		return 0
	}
}

// Hash returns a fixed-size content hash of the address, for callers that
// want a compact, uniformly-distributed key (e.g. sharding across a
// dissemination index) rather than the variable-length string form.
func (a Address) Hash() [32]byte {
	return blake3.Sum256([]byte(a.String()))
}

// TCPAddr resolves the address back to a *net.TCPAddr usable for dialing.
func (a Address) TCPAddr() (*net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", a.String())
	if err != nil {
		return nil, fmt.Errorf("swim: resolve %q: %w", a.String(), err)
	}
	return addr, nil
}
