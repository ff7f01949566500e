// Package secrets resolves per-topic credentials from the remote secret
// service and keeps the resulting auth material out of logs and wire formats.
package secrets

import (
	"strings"
	"sync"
)

// Redacted is what a Secret renders as everywhere except Unsafe().
const Redacted = "[REDACTED]"

// tracked holds the raw values of every live Secret so tests can assert that
// no log line leaks one. Secrets are few and test-scoped; the set is never
// large enough to matter.
var tracked = struct {
	mtx    sync.RWMutex
	values map[string]struct{}
}{values: map[string]struct{}{}}

// Secret wraps sensitive material. Its display and serialization forms are
// redacted; only Unsafe() yields the raw value, and only the message-bus
// client configuration path may call it.
type Secret struct {
	v string
}

func NewSecret(v string) Secret {
	if v != "" {
		tracked.mtx.Lock()
		tracked.values[v] = struct{}{}
		tracked.mtx.Unlock()
	}
	return Secret{v: v}
}

func (s Secret) String() string   { return Redacted }
func (s Secret) GoString() string { return Redacted }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + Redacted + `"`), nil }
func (s Secret) MarshalYAML() (any, error)    { return Redacted, nil }

func (s Secret) IsZero() bool { return s.v == "" }

// Unsafe returns the raw value. Grep for callers before adding one.
func (s Secret) Unsafe() string { return s.v }

// ContainsSecrets reports whether line carries the raw value of any live
// Secret. Used by tests to prove log cleanliness.
func ContainsSecrets(line string) bool {
	tracked.mtx.RLock()
	defer tracked.mtx.RUnlock()
	for v := range tracked.values {
		if strings.Contains(line, v) {
			return true
		}
	}
	return false
}
