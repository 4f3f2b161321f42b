package domain

import (
	"fmt"
	"sort"
	"sync"
)

// Destination names one clearinghouse endpoint set a study can be
// submitted to. Key is the opaque identifier studies reference; the
// endpoint URLs are resolved by the transport layer.
type Destination struct {
	Key  string `json:"key"`
	Name string `json:"name"`

	RegistryURL   string `json:"registryURL,omitempty"`
	RepositoryURL string `json:"repositoryURL,omitempty"`
	IdentityURL   string `json:"identityURL,omitempty"`
	SourceID      string `json:"sourceID,omitempty"`
}

// DestinationSet is the set of configured destinations, constructed
// once at startup and passed to the components that need it.
type DestinationSet struct {
	mu   sync.RWMutex
	byID map[string]Destination
}

// NewDestinationSet builds a set from the configured destinations.
// Duplicate keys are rejected.
func NewDestinationSet(dests []Destination) (*DestinationSet, error) {
	byID := make(map[string]Destination, len(dests))
	for _, d := range dests {
		if d.Key == "" {
			return nil, fmt.Errorf("%w: destination with empty key", ErrInvalidArgument)
		}
		if _, ok := byID[d.Key]; ok {
			return nil, fmt.Errorf("%w: destination %q", ErrAlreadyExists, d.Key)
		}
		byID[d.Key] = d
	}
	return &DestinationSet{byID: byID}, nil
}

// Get resolves a destination by key.
func (ds *DestinationSet) Get(key string) (Destination, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	d, ok := ds.byID[key]
	if !ok {
		return Destination{}, fmt.Errorf("destination %q: %w", key, ErrNotFound)
	}
	return d, nil
}

// Name returns the display name for a destination key, or the key
// itself when the destination is unknown.
func (ds *DestinationSet) Name(key string) string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if d, ok := ds.byID[key]; ok && d.Name != "" {
		return d.Name
	}
	return key
}

// List returns all destinations ordered by key.
func (ds *DestinationSet) List() []Destination {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]Destination, 0, len(ds.byID))
	for _, d := range ds.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
