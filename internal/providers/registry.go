package providers

import (
	"fmt"
	"sort"
)

// Registry resolves a Kind to its configured Provider.
type Registry struct {
	providers map[Kind]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Kind()] = p
	}
	return r
}

func (r *Registry) Get(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in name order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
