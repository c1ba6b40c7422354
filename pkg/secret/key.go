package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeySize is the size in bytes of a snapshot encryption key.
const KeySize = 32

// GenerateKey returns a random KeySize-byte key, hex encoded.
func GenerateKey() (string, error) {
	b, err := GenerateBytes(KeySize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateBytes returns n random bytes.
func GenerateBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("secret: read random: %w", err)
	}
	return b, nil
}

// DecodeKey parses a hex key and checks its length.
func DecodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("secret: key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret: key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}
