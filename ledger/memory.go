package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// MemoryLedger is an in-process athlete registry with the contract's rules:
// one registration per account, valid categories only.
type MemoryLedger struct {
	address common.Address
	clock   clock.Clock

	mu      sync.Mutex
	records map[common.Address]interfaces.EncryptedAthleteRecord
	events  []AthleteRegistryAthleteRegistered
	block   uint64
}

// NewMemoryLedger creates an empty ledger posing as the contract at address.
func NewMemoryLedger(address common.Address, clk clock.Clock) *MemoryLedger {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLedger{
		address: address,
		clock:   clk,
		records: make(map[common.Address]interfaces.EncryptedAthleteRecord),
	}
}

// Address returns the contract address.
func (l *MemoryLedger) Address() common.Address {
	return l.address
}

// LedgerFor returns the ledger itself regardless of backend, so a
// MemoryLedger can stand in for a LedgerFactory.
func (l *MemoryLedger) LedgerFor(interfaces.ChainBackend) (interfaces.AthleteLedger, error) {
	return l, nil
}

// RegisterAthlete records a registration for opts.From.
func (l *MemoryLedger) RegisterAthlete(ctx context.Context, opts *bind.TransactOpts, handles interfaces.AthleteHandles, category interfaces.SportCategory) (*types.Receipt, error) {
	if opts == nil {
		return nil, ErrNoTransactOpts
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown sport category %d", interfaces.ErrValidation, category)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[opts.From]; ok {
		return nil, fmt.Errorf("%w: Athlete already registered", interfaces.ErrTransaction)
	}

	now := uint64(l.clock.Now().Unix())
	l.block++
	l.records[opts.From] = interfaces.EncryptedAthleteRecord{
		Handles:               handles,
		Category:              category,
		RegistrationTimestamp: now,
		Owner:                 opts.From,
	}
	l.events = append(l.events, AthleteRegistryAthleteRegistered{
		Athlete:   opts.From,
		Category:  uint8(category),
		Timestamp: new(big.Int).SetUint64(now),
	})

	txHash := crypto.Keccak256Hash(opts.From.Bytes(), new(big.Int).SetUint64(l.block).Bytes())
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(l.block),
	}, nil
}

// GetAthleteRecord returns the registration of owner, or
// interfaces.ErrRecordNotFound.
func (l *MemoryLedger) GetAthleteRecord(ctx context.Context, owner common.Address) (*interfaces.EncryptedAthleteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[owner]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return &record, nil
}

// IsRegistered reports whether owner has a registration.
func (l *MemoryLedger) IsRegistered(ctx context.Context, owner common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[owner]
	return ok, nil
}

// Events returns the AthleteRegistered events emitted so far.
func (l *MemoryLedger) Events() []AthleteRegistryAthleteRegistered {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AthleteRegistryAthleteRegistered(nil), l.events...)
}
