package exchanges

import (
	"strings"
	"sync"

	"basis/pkg/errors"
)

// Registry holds venue adapters by name. It is constructed once at startup
// and injected wherever venue access is needed.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]Exchange
}

// NewRegistry creates an empty venue registry
func NewRegistry() *Registry {
	return &Registry{
		venues: make(map[string]Exchange),
	}
}

// Register adds a venue adapter under its name
func (r *Registry) Register(venue Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[strings.ToLower(venue.Name())] = venue
}

// Get resolves a venue adapter by name
func (r *Registry) Get(name string) (Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	venue, ok := r.venues[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownExchange, "%s", name)
	}
	return venue, nil
}

// Names lists registered venue names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	return names
}
