package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// ErrCiphertextTooShort is returned when a ciphertext cannot even hold a
// nonce.
var ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")

// Cipher provides authenticated encryption.
type Cipher interface {
	Type() CipherType
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// New creates a cipher for key using the algorithm preferred on this
// architecture. AES-GCM needs a 16, 24 or 32 byte key; ChaCha20 needs 32.
func New(key []byte) (Cipher, error) {
	if hasAESAcceleration() {
		return NewWithType(key, CipherAESGCM)
	}
	return NewWithType(key, CipherChaCha20)
}

// NewWithType creates a cipher of the given type.
func NewWithType(key []byte, typ CipherType) (Cipher, error) {
	var (
		aead cipher.AEAD
		err  error
	)
	switch typ {
	case CipherAESGCM:
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("adaptive: invalid %s key size %d", typ, len(key))
		}
		var block cipher.Block
		if block, err = aes.NewCipher(key); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("adaptive: invalid %s key size %d", typ, len(key))
		}
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("adaptive: %w", err)
	}
	return &aeadCipher{typ: typ, aead: aead}, nil
}

// Go's crypto/aes uses AES-NI on amd64 and the ARMv8 crypto extensions on
// arm64.
func hasAESAcceleration() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

type aeadCipher struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aeadCipher) Type() CipherType { return c.typ }

func (c *aeadCipher) NonceSize() int { return c.aead.NonceSize() }

func (c *aeadCipher) Overhead() int { return c.aead.Overhead() }

// Encrypt seals plaintext and prepends a random nonce.
func (c *aeadCipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *aeadCipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], additionalData)
}
