// Package ledger provides access to the athlete registry contract: an
// on-chain client, an in-process ledger for development, and a testify mock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted without transaction options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

// OnchainLedgerClient implements interfaces.AthleteLedger for a deployed
// athlete registry contract.
type OnchainLedgerClient struct {
	contract *AthleteRegistry
	backend  interfaces.ChainBackend
	address  common.Address
	log      *slog.Logger
}

// NewOnchainLedgerClient creates a client for the contract at address.
func NewOnchainLedgerClient(backend interfaces.ChainBackend, address common.Address, log *slog.Logger) (*OnchainLedgerClient, error) {
	if log == nil {
		log = slog.Default()
	}
	contract, err := NewAthleteRegistry(address, backend)
	if err != nil {
		return nil, err
	}

	return &OnchainLedgerClient{
		contract: contract,
		backend:  backend,
		address:  address,
		log:      log,
	}, nil
}

// Address returns the contract address.
func (c *OnchainLedgerClient) Address() common.Address {
	return c.address
}

// RegisterAthlete submits registerAthlete and waits for it to be mined.
// Rejections and reverts are reported as interfaces.ErrTransaction carrying
// the revert reason when one can be decoded.
func (c *OnchainLedgerClient) RegisterAthlete(ctx context.Context, opts *bind.TransactOpts, handles interfaces.AthleteHandles, category interfaces.SportCategory) (*types.Receipt, error) {
	if opts == nil {
		return nil, ErrNoTransactOpts
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown sport category %d", interfaces.ErrValidation, category)
	}

	txOpts := *opts
	txOpts.Context = ctx

	tx, err := c.contract.RegisterAthlete(&txOpts, handles.Name, handles.Age, handles.Contact, uint8(category))
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrTransaction, reason)
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrTransaction, err)
	}

	c.log.Info("Registration submitted", "tx", tx.Hash().Hex(), "from", opts.From.Hex())

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", interfaces.ErrTransaction, tx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := c.replayRevert(ctx, opts.From, tx, receipt.BlockNumber)
		if reason == "" {
			return receipt, fmt.Errorf("%w: transaction %s reverted", interfaces.ErrTransaction, tx.Hash().Hex())
		}
		return receipt, fmt.Errorf("%w: transaction %s reverted: %s", interfaces.ErrTransaction, tx.Hash().Hex(), reason)
	}

	c.log.Info("Registration mined", "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

// replayRevert re-executes a reverted transaction at its block to recover
// the revert reason. It returns "" when none can be decoded.
func (c *OnchainLedgerClient) replayRevert(ctx context.Context, from common.Address, tx *types.Transaction, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err := c.backend.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	if reason, ok := RevertReason(err); ok {
		return reason
	}
	return ""
}

// GetAthleteRecord returns the registration of owner, or
// interfaces.ErrRecordNotFound.
func (c *OnchainLedgerClient) GetAthleteRecord(ctx context.Context, owner common.Address) (*interfaces.EncryptedAthleteRecord, error) {
	info, err := c.contract.GetAthleteInfo(&bind.CallOpts{Context: ctx}, owner)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return nil, interfaces.ErrRecordNotFound
	}

	var timestamp uint64
	if info.RegistrationTimestamp != nil {
		timestamp = info.RegistrationTimestamp.Uint64()
	}

	return &interfaces.EncryptedAthleteRecord{
		Handles: interfaces.AthleteHandles{
			Name:    interfaces.Handle(info.EncName),
			Age:     interfaces.Handle(info.EncAge),
			Contact: interfaces.Handle(info.EncContact),
		},
		Category:              interfaces.SportCategory(info.Category),
		RegistrationTimestamp: timestamp,
		Owner:                 owner,
	}, nil
}

// IsRegistered reports whether owner has a registration.
func (c *OnchainLedgerClient) IsRegistered(ctx context.Context, owner common.Address) (bool, error) {
	return c.contract.IsRegistered(&bind.CallOpts{Context: ctx}, owner)
}

// RevertReason extracts a Solidity revert string from an RPC error.
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}

	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return "", false
	}

	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}

// LedgerFactory creates ledger clients for a fixed contract address.
type LedgerFactory struct {
	address common.Address
	log     *slog.Logger
}

// NewLedgerFactory creates a factory for the contract at address.
func NewLedgerFactory(address common.Address, log *slog.Logger) *LedgerFactory {
	return &LedgerFactory{address: address, log: log}
}

// LedgerFor returns a client reading and writing through backend.
func (f *LedgerFactory) LedgerFor(backend interfaces.ChainBackend) (interfaces.AthleteLedger, error) {
	if backend == nil {
		return nil, interfaces.ErrNotConnected
	}
	return NewOnchainLedgerClient(backend, f.address, f.log)
}
