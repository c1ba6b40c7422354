package secret

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Password holds the digest of a configured password. The zero value
// means no password is set.
type Password struct {
	digest [sha256.Size]byte
	set    bool
}

// NewPassword digests p. An empty p yields an unset Password.
func NewPassword(p string) Password {
	if p == "" {
		return Password{}
	}
	return Password{digest: sha256.Sum256([]byte(p)), set: true}
}

// IsSet reports whether a password is configured.
func (p Password) IsSet() bool {
	return p.set
}

// Matches compares guess with the password in constant time.
func (p Password) Matches(guess string) bool {
	if !p.set {
		return false
	}
	d := sha256.Sum256([]byte(guess))
	return subtle.ConstantTimeCompare(d[:], p.digest[:]) == 1
}
