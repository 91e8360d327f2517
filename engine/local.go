package engine

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/storage"
	"golang.org/x/crypto/hkdf"
)

const maxNameLength = 128

var (
	// ErrUnknownHandle is returned for handles the engine never issued.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")

	// ErrNotAllowed is returned when the authorization does not cover a handle.
	ErrNotAllowed = errors.New("handle not decryptable by this owner")

	// ErrInvalidAuthorization is returned for missing, expired or forged authorizations.
	ErrInvalidAuthorization = errors.New("invalid decryption authorization")

	// ErrUnsupportedChain is returned by LocalFactory for chains it has no engine for.
	ErrUnsupportedChain = errors.New("no confidential engine for chain")
)

// LocalEngine is an in-process confidential engine for development and tests.
// Ciphertexts are AES-GCM sealed under a key derived from a seed and kept in a
// ciphertext store; handles are their content addresses. Decryption is granted
// to the owner the ciphertext was bound to, on presentation of a valid
// authorization.
type LocalEngine struct {
	chainID uint64
	aead    cipher.AEAD
	clock   clock.Clock
	store   interfaces.CiphertextStore
}

// NewLocalEngine derives the engine key for chainID from seed and keeps
// ciphertexts in memory.
func NewLocalEngine(chainID uint64, seed []byte, clk clock.Clock) (*LocalEngine, error) {
	return NewLocalEngineWithStore(chainID, seed, clk, storage.NewMemoryBackend())
}

// NewLocalEngineWithStore is NewLocalEngine with an explicit ciphertext store.
// Handles issued before a restart stay decryptable as long as the seed and a
// persistent store are reused.
func NewLocalEngineWithStore(chainID uint64, seed []byte, clk clock.Clock, store interfaces.CiphertextStore) (*LocalEngine, error) {
	if store == nil {
		return nil, errors.New("engine needs a ciphertext store")
	}
	if len(seed) < 32 {
		return nil, errors.New("engine seed must be at least 32 bytes")
	}
	if clk == nil {
		clk = clock.New()
	}

	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], chainID)
	kdf := hkdf.New(sha256.New, seed, salt[:], []byte("athlete-registry-local-engine"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("could not derive engine key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &LocalEngine{
		chainID: chainID,
		aead:    aead,
		clock:   clk,
		store:   store,
	}, nil
}

// Available reports whether the ciphertext store is reachable.
func (e *LocalEngine) Available(ctx context.Context) bool {
	return e.store.Available(ctx)
}

// ChainID returns the chain the engine serves.
func (e *LocalEngine) ChainID() uint64 {
	return e.chainID
}

func additionalData(target interfaces.EncryptTarget, kind interfaces.FieldKind) []byte {
	ad := make([]byte, 0, 41)
	ad = append(ad, target.Contract.Bytes()...)
	ad = append(ad, target.Owner.Bytes()...)
	return append(ad, byte(kind))
}

func validateField(field interfaces.Field) error {
	switch field.Kind {
	case interfaces.FieldName:
		if len(field.Value) == 0 || len(field.Value) > maxNameLength {
			return fmt.Errorf("name must be 1-%d bytes", maxNameLength)
		}
	case interfaces.FieldAge:
		v, err := interfaces.DecodeUint(field.Value)
		if err != nil {
			return err
		}
		if v > 255 {
			return fmt.Errorf("age %d does not fit 8 bits", v)
		}
	case interfaces.FieldContact:
		if _, err := interfaces.DecodeUint(field.Value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported field kind %d", field.Kind)
	}
	return nil
}

// Encrypt seals field for target and returns its handle.
func (e *LocalEngine) Encrypt(ctx context.Context, target interfaces.EncryptTarget, field interfaces.Field) (interfaces.Handle, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Handle{}, err
	}
	if err := validateField(field); err != nil {
		return interfaces.Handle{}, err
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return interfaces.Handle{}, err
	}
	sealed := e.aead.Seal(nil, nonce, field.Value, additionalData(target, field.Kind))

	// The handle's last byte carries the field kind, like typed handles on FHE chains.
	return e.store.Put(ctx, &interfaces.StoredCiphertext{
		Contract: target.Contract,
		Owner:    target.Owner,
		Kind:     field.Kind,
		Nonce:    nonce,
		Sealed:   sealed,
	})
}

// UserDecrypt opens handles for auth.Owner after verifying the authorization.
func (e *LocalEngine) UserDecrypt(ctx context.Context, handles []interfaces.Handle, auth *interfaces.Authorization) (map[interfaces.Handle][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, fmt.Errorf("%w: missing", ErrInvalidAuthorization)
	}
	if err := auth.Verify(e.clock.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}

	values := make(map[interfaces.Handle][]byte, len(handles))
	for _, h := range handles {
		ct, err := e.store.Get(ctx, h)
		if errors.Is(err, interfaces.ErrCiphertextNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
		}
		if err != nil {
			return nil, err
		}
		if ct.Owner != auth.Owner || ct.Contract != auth.Contract {
			return nil, fmt.Errorf("%w: %s", ErrNotAllowed, h)
		}
		plain, err := e.aead.Open(nil, ct.Nonce, ct.Sealed, additionalData(ct.Target(), ct.Kind))
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", h, err)
		}
		values[h] = plain
	}
	return values, nil
}

// LocalFactory serves LocalEngines per chain, the way development networks
// are configured with built-in mock engines.
type LocalFactory struct {
	Engines map[uint64]*LocalEngine
}

// New returns the engine registered for chainID.
func (f *LocalFactory) New(ctx context.Context, chainID uint64, _ interfaces.Signer) (interfaces.ConfidentialEngine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eng, ok := f.Engines[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return eng, nil
}
