package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the request-signing capability of a connected wallet.
type Signer interface {
	// Address returns the account the signer controls.
	Address() common.Address

	// SignChallenge signs a decryption authorization challenge as an
	// EIP-191 text message. It may block until the user approves.
	SignChallenge(ctx context.Context, challenge [32]byte) ([]byte, error)

	// TransactOpts returns transaction options signing for chainID.
	TransactOpts(ctx context.Context, chainID uint64) (*bind.TransactOpts, error)
}

// ChainBackend is the read provider capability: contract calls, transaction
// submission and receipt lookup.
type ChainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// ConfidentialEngine performs client-side encryption and authorized
// decryption of registration fields.
type ConfidentialEngine interface {
	// Encrypt encrypts a field bound to target and returns its handle.
	Encrypt(ctx context.Context, target EncryptTarget, field Field) (Handle, error)

	// UserDecrypt returns plaintexts for handles owned by auth.Owner.
	// It may take several seconds.
	UserDecrypt(ctx context.Context, handles []Handle, auth *Authorization) (map[Handle][]byte, error)
}

// EngineFactory constructs an engine bound to a network and signer.
type EngineFactory interface {
	New(ctx context.Context, chainID uint64, signer Signer) (ConfidentialEngine, error)
}

// AthleteLedger is the ledger contract consumed by the workflows.
type AthleteLedger interface {
	// RegisterAthlete submits a registration and waits for its receipt.
	RegisterAthlete(ctx context.Context, opts *bind.TransactOpts, handles AthleteHandles, category SportCategory) (*types.Receipt, error)

	// GetAthleteRecord returns the owner's record or ErrRecordNotFound.
	GetAthleteRecord(ctx context.Context, owner common.Address) (*EncryptedAthleteRecord, error)

	// IsRegistered reports whether owner has a registration.
	IsRegistered(ctx context.Context, owner common.Address) (bool, error)

	// Address returns the contract address, the target of encryption and
	// decryption authorizations.
	Address() common.Address
}

// LedgerFactory creates ledger clients bound to a session's read provider.
type LedgerFactory interface {
	LedgerFor(backend ChainBackend) (AthleteLedger, error)
}
