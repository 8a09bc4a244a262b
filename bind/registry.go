package bind

import "sync"

// Registry deduplicates bindings by identity key. Sharing happens only
// here, at construction: each binding still owns its listener and auth
// observer exclusively.
type Registry struct {
	m        sync.Mutex
	bindings map[Key]any
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Key]any)}
}

// Shared returns the binding already registered under key, or constructs
// one with mk and remembers it. The stored binding must have been
// constructed with the same type B it is asked for.
func Shared[B any](r *Registry, key Key, mk func() B) B {
	r.m.Lock()
	defer r.m.Unlock()

	if v, ok := r.bindings[key]; ok {
		return v.(B)
	}
	b := mk()
	r.bindings[key] = b
	return b
}

// Drop forgets the binding under key, typically after cancelling it.
func (r *Registry) Drop(key Key) {
	r.m.Lock()
	delete(r.bindings, key)
	r.m.Unlock()
}
