package interfaces

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrCiphertextNotFound is returned by stores for handles they do not hold.
var ErrCiphertextNotFound = errors.New("ciphertext not found")

// StoredCiphertext is a sealed field as kept by an engine. The plaintext is
// only recoverable with the engine key.
type StoredCiphertext struct {
	Contract common.Address `json:"contract"`
	Owner    common.Address `json:"owner"`
	Kind     FieldKind      `json:"kind"`
	Nonce    hexutil.Bytes  `json:"nonce"`
	Sealed   hexutil.Bytes  `json:"sealed"`
}

// Target returns the encryption target the ciphertext is bound to.
func (c *StoredCiphertext) Target() EncryptTarget {
	return EncryptTarget{Contract: c.Contract, Owner: c.Owner}
}

// Handle computes the content address of the ciphertext:
// keccak256(nonce || sealed) with the last byte replaced by the field kind.
func (c *StoredCiphertext) Handle() Handle {
	h := Handle(crypto.Keccak256Hash(c.Nonce, c.Sealed))
	h[31] = byte(c.Kind)
	return h
}

// CiphertextStore persists sealed ciphertexts by handle.
type CiphertextStore interface {
	// Put stores ct under its handle. Storing the same ciphertext twice is
	// not an error.
	Put(ctx context.Context, ct *StoredCiphertext) (Handle, error)

	// Get returns the ciphertext for h or ErrCiphertextNotFound.
	Get(ctx context.Context, h Handle) (*StoredCiphertext, error)

	// Available reports whether the store is reachable.
	Available(ctx context.Context) bool

	// Name identifies the store in logs.
	Name() string
}
