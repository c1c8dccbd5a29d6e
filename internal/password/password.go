// Package password generates the per-run session passphrase used for
// the encrypt pipeline stage. Generation is lazy: a run that never
// enables encryption never touches crypto/rand.
package password

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
)

// Length is the number of random bytes drawn per passphrase, before
// base64 encoding.
const Length = 32

// Session memoizes one lazily generated passphrase so every target in
// a run shares the same value without regenerating it per target.
type Session struct {
	mu    sync.Mutex
	value string
	done  bool
}

// Get returns the session's passphrase, generating it on first call.
func (s *Session) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return s.value, nil
	}

	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session password: %w", err)
	}

	s.value = base64.RawURLEncoding.EncodeToString(buf)
	s.done = true
	return s.value, nil
}

// String implements fmt.Stringer with a fixed redaction so an
// accidental %v/%s of a Session in a log line never leaks the
// passphrase.
func (s *Session) String() string {
	return "password.Session(redacted)"
}
