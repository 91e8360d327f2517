package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the AthleteLedger interface
type MockLedger struct {
	mock.Mock
}

// Address mocks the Address method
func (m *MockLedger) Address() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

// RegisterAthlete mocks the RegisterAthlete method
func (m *MockLedger) RegisterAthlete(ctx context.Context, opts *bind.TransactOpts, handles interfaces.AthleteHandles, category interfaces.SportCategory) (*types.Receipt, error) {
	args := m.Called(ctx, opts, handles, category)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

// GetAthleteRecord mocks the GetAthleteRecord method
func (m *MockLedger) GetAthleteRecord(ctx context.Context, owner common.Address) (*interfaces.EncryptedAthleteRecord, error) {
	args := m.Called(ctx, owner)
	record, _ := args.Get(0).(*interfaces.EncryptedAthleteRecord)
	return record, args.Error(1)
}

// IsRegistered mocks the IsRegistered method
func (m *MockLedger) IsRegistered(ctx context.Context, owner common.Address) (bool, error) {
	args := m.Called(ctx, owner)
	return args.Bool(0), args.Error(1)
}

// MockLedgerFactory mocks the LedgerFactory interface
type MockLedgerFactory struct {
	mock.Mock
}

// LedgerFor mocks the LedgerFor method
func (m *MockLedgerFactory) LedgerFor(backend interfaces.ChainBackend) (interfaces.AthleteLedger, error) {
	args := m.Called(backend)
	ledger, _ := args.Get(0).(interfaces.AthleteLedger)
	return ledger, args.Error(1)
}
