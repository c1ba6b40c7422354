package storage

import (
	"github.com/workingdb/workingdb-go/internal/storage/snapshot"
	"github.com/workingdb/workingdb-go/pkg/crypto/adaptive"
	"github.com/workingdb/workingdb-go/pkg/secret"
)

// CipherFromHex decodes a hex master key and returns the snapshot cipher
// for algorithm, or nil when hexKey is empty.
func CipherFromHex(hexKey, algorithm string) (adaptive.Cipher, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := secret.DecodeKey(hexKey)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(key)
	return snapshot.NewCipher(key, algorithm)
}
