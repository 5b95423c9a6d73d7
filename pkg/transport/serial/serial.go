// Package serial wraps github.com/daedaluz/goserial as an
// xd2031/pkg/transport.Transport, the real IEC/IEEE link opened by
// cmd/xdserver and cmd/xdfirmware.
package serial

import (
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/xd2031/xd2031/pkg/transport"
)

func init() {
	transport.Register("serial", Open)
}

// link adapts a *goserial.Port to transport.Transport.
type link struct {
	port *goserial.Port
}

// Open opens device (e.g. "/dev/ttyUSB0") as a transport.
func Open(device string) (transport.Transport, error) {
	opts := goserial.NewOptions().SetReadTimeout(200 * time.Millisecond)
	port, err := goserial.Open(device, opts)
	if err != nil {
		return nil, err
	}
	return &link{port: port}, nil
}

func (l *link) Read(p []byte) (int, error)  { return l.port.Read(p) }
func (l *link) Write(p []byte) (int, error) { return l.port.Write(p) }
func (l *link) Close() error                { return l.port.Close() }
