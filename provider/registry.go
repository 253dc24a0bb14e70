package provider

import (
	"sync"

	"github.com/openchat/rtckit/domain"
)

// Factory builds a fresh, uninitialized engine instance.
type Factory func() Engine

var (
	registryMu sync.RWMutex
	registry   = make(map[Vendor]Factory)
)

// Register makes a vendor engine resolvable by name. Vendor packages
// call it from init.
func Register(v Vendor, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[v] = f
}

// New resolves the engine implementation for the configured vendor.
func New(v Vendor) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[v]
	registryMu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.CodeNotSupported, "provider.New", "unknown vendor %q", v)
	}
	return f(), nil
}
