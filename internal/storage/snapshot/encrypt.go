package snapshot

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/workingdb/workingdb-go/pkg/crypto/adaptive"
	"github.com/workingdb/workingdb-go/pkg/secret"
)

// ErrDecryptionFailed is returned when a data block does not open with
// the configured key.
var ErrDecryptionFailed = errors.New("snapshot: decryption failed, wrong key or corrupted data")

// cipherKeyInfo binds the derived key to snapshot data blocks, so the
// master key may be reused for other purposes.
const cipherKeyInfo = "workingdb snapshot v1"

// Ciphers accepted by NewCipher. Empty picks by hardware support.
var Ciphers = []string{"", string(adaptive.CipherAESGCM), string(adaptive.CipherChaCha20)}

// NewCipher derives the data block key from masterKey with HKDF-SHA256 and
// returns an AEAD of the named algorithm. A nil key returns a nil cipher,
// which disables encryption.
func NewCipher(masterKey []byte, algorithm string) (adaptive.Cipher, error) {
	if len(masterKey) == 0 {
		return nil, nil
	}

	key := make([]byte, secret.KeySize)
	defer secret.Zero(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(cipherKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("snapshot: derive key: %w", err)
	}

	switch typ := adaptive.CipherType(algorithm); typ {
	case "":
		return adaptive.New(key)
	case adaptive.CipherAESGCM, adaptive.CipherChaCha20:
		return adaptive.NewWithType(key, typ)
	default:
		return nil, fmt.Errorf("snapshot: unsupported cipher %q", algorithm)
	}
}
