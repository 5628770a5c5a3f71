package docchat

import (
	"context"
	"strings"
	"sync"
)

// Token is the cancellation handle for one in-flight request. Its context is
// cancelled when the request completes, is superseded by a request with the
// same key, or is cancelled explicitly through the registry.
type Token struct {
	key      string
	ctx      context.Context
	cancel   context.CancelFunc
	registry *PendingRegistry
}

// Key returns the request key the token was registered under.
func (t *Token) Key() string {
	return t.key
}

// Context returns the context that aborts the transport call when the token
// is cancelled.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancel aborts the request without touching the registry.
func (t *Token) Cancel() {
	t.cancel()
}

// Canceled reports whether the token has been invalidated.
func (t *Token) Canceled() bool {
	return t.ctx.Err() != nil
}

// Release cancels the token and removes it from the registry if it is still
// the entry for its key. A superseded request never evicts its successor.
func (t *Token) Release() {
	if t.registry != nil {
		t.registry.release(t)
	}
	t.cancel()
}

// PendingRegistry keeps at most one cancellation token per request key.
// Registering a key that is already present cancels the previous request.
type PendingRegistry struct {
	mu      sync.Mutex
	entries map[string]*Token
	onEvict func(key, reason string)
}

// NewPendingRegistry returns an empty registry.
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		entries: make(map[string]*Token),
	}
}

// RequestKey identifies "the same logical request": method and URL only.
func RequestKey(method, url string) string {
	return strings.ToUpper(method) + "&" + url
}

// Register supersedes any token stored for key and returns a fresh one
// derived from parent.
func (r *PendingRegistry) Register(parent context.Context, key string) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	token := &Token{key: key, ctx: ctx, cancel: cancel, registry: r}

	r.mu.Lock()
	prev, exists := r.entries[key]
	r.entries[key] = token
	r.mu.Unlock()

	if exists {
		prev.cancel()
		r.evicted(key, "superseded")
	}
	return token
}

// Deregister cancels and removes the entry for key. Calling it for an absent
// key is a no-op.
func (r *PendingRegistry) Deregister(key string) {
	r.mu.Lock()
	token, exists := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if exists {
		token.cancel()
	}
}

// CancelByPrefix cancels and removes every entry whose key contains any of
// the given substrings. It returns the number of cancelled entries.
func (r *PendingRegistry) CancelByPrefix(substrings ...string) int {
	var cancelled []*Token

	r.mu.Lock()
	for key, token := range r.entries {
		for _, s := range substrings {
			if strings.Contains(key, s) {
				cancelled = append(cancelled, token)
				delete(r.entries, key)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, token := range cancelled {
		token.cancel()
		r.evicted(token.key, "prefix")
	}
	return len(cancelled)
}

// CancelAll cancels and clears every entry.
func (r *PendingRegistry) CancelAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Token)
	r.mu.Unlock()

	for key, token := range entries {
		token.cancel()
		r.evicted(key, "all")
	}
	return len(entries)
}

// Len returns the number of registered requests.
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Has reports whether key currently has a registered token.
func (r *PendingRegistry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Keys returns a snapshot of the registered keys.
func (r *PendingRegistry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	return keys
}

func (r *PendingRegistry) release(t *Token) {
	r.mu.Lock()
	if cur, ok := r.entries[t.key]; ok && cur == t {
		delete(r.entries, t.key)
	}
	r.mu.Unlock()
}

func (r *PendingRegistry) evicted(key, reason string) {
	if r.onEvict != nil {
		r.onEvict(key, reason)
	}
}
