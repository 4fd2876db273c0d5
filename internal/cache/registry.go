// internal/cache/registry.go
package cache

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Registry is the per-network list of every lookup table this tool created.
// Maintenance sweeps enumerate it; closing a table removes it.
type Registry struct {
	store Store
	name  string
}

func NewRegistry(store Store, name string) *Registry {
	return &Registry{store: store, name: name}
}

func (r *Registry) Name() string {
	return r.name
}

func (r *Registry) load() ([]string, error) {
	return LoadOr(r.store, r.name, []string{})
}

// Addresses returns the tracked table addresses in registration order.
func (r *Registry) Addresses() ([]solana.PublicKey, error) {
	raw, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]solana.PublicKey, 0, len(raw))
	for _, s := range raw {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("registry %s: bad address %q: %w", r.name, s, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// Add appends addresses that are not tracked yet.
func (r *Registry) Add(addrs ...solana.PublicKey) error {
	unlock := r.store.Lock(r.name)
	defer unlock()

	raw, err := r.load()
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		known[s] = struct{}{}
	}
	changed := false
	for _, a := range addrs {
		s := a.String()
		if _, ok := known[s]; ok {
			continue
		}
		known[s] = struct{}{}
		raw = append(raw, s)
		changed = true
	}
	if !changed {
		return nil
	}
	return r.store.Save(r.name, raw)
}

// Remove drops the given addresses from the registry.
func (r *Registry) Remove(addrs ...solana.PublicKey) error {
	unlock := r.store.Lock(r.name)
	defer unlock()

	raw, err := r.load()
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		drop[a.String()] = struct{}{}
	}
	kept := make([]string, 0, len(raw))
	for _, s := range raw {
		if _, ok := drop[s]; !ok {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(raw) {
		return nil
	}
	return r.store.Save(r.name, kept)
}
