// Package virtual provides an in-memory loopback transport for tests and
// local demos: a plain net.Pipe standing in for the serial link, with no
// external broker or network dependency.
package virtual

import (
	"net"

	"github.com/xd2031/xd2031/pkg/transport"
)

func init() {
	transport.Register("virtual", Open)
}

// link adapts one end of a net.Pipe to transport.Transport.
type link struct {
	net.Conn
}

func (l *link) Close() error { return l.Conn.Close() }

// Open ignores its device argument (there is nothing to dial) and returns
// one end of a fresh in-memory pipe; Pair gives both ends at once, which is
// what tests actually want.
func Open(device string) (transport.Transport, error) {
	a, _ := Pair()
	return a, nil
}

// Pair returns two connected transports, the way a real firmware and
// server would be connected by a physical serial cable.
func Pair() (transport.Transport, transport.Transport) {
	a, b := net.Pipe()
	return &link{Conn: a}, &link{Conn: b}
}
