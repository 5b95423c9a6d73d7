// Package transport provides the byte-stream link XD-2031's Framer rides
// on top of (§1, "the actual electrical bus driver... the core only
// consumes a higher-level interface"). Concrete transports register
// themselves by name from an init() func, the same registry shape
// providerfactory.go uses for filesystem providers.
package transport

import (
	"fmt"
	"io"
	"sync"
)

// Transport is a reliable, ordered byte stream: the serial link (or an
// in-memory pipe in tests). It satisfies io.ReadWriter so it drops
// straight into xd2031.NewFramer.
type Transport interface {
	io.ReadWriter
	Close() error
}

// NewTransportFunc opens a transport given a device/channel string
// (a device path for serial, an address for virtual/network transports).
type NewTransportFunc func(device string) (Transport, error)

var (
	mu       sync.Mutex
	registry = make(map[string]NewTransportFunc)
)

// Register makes a transport constructor available under name. Call from
// a transport package's init().
func Register(name string, ctor NewTransportFunc) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = ctor
}

// Open constructs a transport of the named kind connected to device.
func Open(name, device string) (Transport, error) {
	mu.Lock()
	ctor, ok := registry[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported transport: %v", name)
	}
	return ctor(device)
}

// Names lists every registered transport kind.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
