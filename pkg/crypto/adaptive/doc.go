// Package adaptive provides authenticated encryption with the algorithm
// chosen for the host: AES-256-GCM where the CPU accelerates AES,
// ChaCha20-Poly1305 elsewhere.
//
// Ciphertexts carry their random nonce as a prefix, so a Cipher is safe
// for concurrent use and needs no per-message state.
//
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(plaintext, aad)
//	plain, err := c.Decrypt(sealed, aad)
package adaptive
