// Package secrets provides a thread-safe secret vault with hot reload support.
// The vault holds provider credentials so that responses and logs can be
// checked for leaked values.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// minLeakLen is the shortest secret value matched in free text. Shorter
// values produce too many false positives.
const minLeakLen = 8

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Keys returns the sorted secret names.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// Redacted returns a masked form of the secret: the first two characters
// followed by "****", or "****" for values of four characters or fewer.
func (v *Vault) Redacted(key string) string {
	val := v.Get(key)
	if val == "" {
		return ""
	}
	return mask(val)
}

// RedactString replaces every occurrence of a secret value in s with its
// masked form.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) <= 4 {
			continue
		}
		s = strings.ReplaceAll(s, val, mask(val))
	}
	return s
}

// Leaked returns the sorted names of secrets whose value appears in s.
func (v *Vault) Leaked(s string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var names []string
	for k, val := range v.values {
		if len(val) >= minLeakLen && strings.Contains(s, val) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func mask(val string) string {
	if len(val) <= 4 {
		return "****"
	}
	return val[:2] + "****"
}
