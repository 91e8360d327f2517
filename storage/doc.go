// Package storage provides content-addressed ciphertext stores for the local
// confidential engine.
//
// A ciphertext is addressed by its handle, the keccak256 of its nonce and
// sealed bytes tagged with the field kind. Stores verify the address on read,
// so a tampered file is reported rather than decrypted.
//
// # Store URI Format
//
//   - memory://                       in-process map, lost on restart
//   - file:///var/lib/athlete/store   one JSON file per handle, grouped by kind
package storage
