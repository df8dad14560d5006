// Package keypool holds the ordered set of Gemini API keys loaded at startup.
package keypool

import (
	"errors"
	"strings"
)

// ErrNoKeys is returned when an operation needs a key and the pool is empty.
var ErrNoKeys = errors.New("no Gemini API keys configured")

// Pool is an ordered, immutable list of API keys. It is safe for concurrent use
// because nothing mutates it after New returns.
type Pool struct {
	keys []string
}

// New builds a pool from keys, preserving order and dropping blank entries.
func New(keys []string) *Pool {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return &Pool{keys: cleaned}
}

// Count returns the number of keys. Zero means the generation service is unconfigured.
func (p *Pool) Count() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Key returns the key at index i.
func (p *Pool) Key(i int) string {
	return p.keys[i]
}

// Keys returns a copy of the keys in order.
func (p *Pool) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// SafeSuffix returns the last 4 characters of a key, or the full key if it's shorter.
// It is the only form of a key that may be written to logs.
func SafeSuffix(key string) string {
	if len(key) > 4 {
		return key[len(key)-4:]
	}
	return key
}
