// Package secret generates keys and compares passwords.
//
// GenerateKey produces the hex encoded 256-bit keys accepted by
// storage.encryption_key. Passwords are kept as SHA-256 digests and
// compared in constant time, so a comparison takes the same time whatever
// the length of the guess.
package secret
