package xd2031

import "sync"

// NewProviderFunc constructs a fresh Provider instance; each provider
// package registers one of these from an init() func, the same pattern
// pkg/transport uses for registering transports by name.
type NewProviderFunc func() Provider

// ProviderFactory is the name → constructor registry backing ASSIGN's
// "provider-name" token (C7, §4.7). The local filesystem provider
// registers itself as "fs"; FTP/HTTP/FAT/disk-image providers are out of
// scope (§1 Non-goals) but would register the same way.
type ProviderFactory struct {
	mu       sync.Mutex
	registry map[string]NewProviderFunc
}

var defaultProviderFactory = &ProviderFactory{registry: make(map[string]NewProviderFunc)}

// RegisterProvider makes a provider constructor available under name. Call
// from a provider package's init().
func RegisterProvider(name string, ctor NewProviderFunc) {
	defaultProviderFactory.mu.Lock()
	defer defaultProviderFactory.mu.Unlock()
	defaultProviderFactory.registry[name] = ctor
}

// DefaultProviderFactory returns the process-wide registry populated by
// provider package init() funcs.
func DefaultProviderFactory() *ProviderFactory {
	return defaultProviderFactory
}

// NewEndpoint looks up providerName and asks a fresh instance of it to root
// an endpoint at path.
func (f *ProviderFactory) NewEndpoint(providerName, path string, parent *Endpoint) (*Endpoint, StatusCode) {
	f.mu.Lock()
	ctor, ok := f.registry[providerName]
	f.mu.Unlock()
	if !ok {
		return nil, ErrDriveNotReady
	}
	p := ctor()
	return p.NewEndpoint(path, parent)
}

// Names lists the currently registered provider names.
func (f *ProviderFactory) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.registry))
	for n := range f.registry {
		names = append(names, n)
	}
	return names
}
