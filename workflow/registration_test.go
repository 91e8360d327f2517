package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/ledger"
	"github.com/ruteri/confidential-athlete-registry/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type registrationFixture struct {
	provider *session.Provider
	signer   *promptSigner
	engine   *fakeEngine
	ledger   *ledger.MockLedger
	workflow *RegistrationWorkflow
}

func newRegistrationFixture(t *testing.T) *registrationFixture {
	f := &registrationFixture{
		provider: session.NewProvider(nil),
		signer:   newPromptSigner(t),
		engine:   newFakeEngine(t),
		ledger:   new(ledger.MockLedger),
	}
	f.ledger.On("Address").Return(contractAddr).Maybe()

	factory := new(ledger.MockLedgerFactory)
	factory.On("LedgerFor", mock.Anything).Return(f.ledger, nil).Maybe()

	require.NoError(t, f.provider.Connect(f.signer, testChainID, &nopBackend{}))
	f.workflow = NewRegistrationWorkflow(f.provider, f.engine, factory, nil)
	t.Cleanup(f.workflow.Close)
	return f
}

var (
	aliceForm = RegistrationForm{Name: "Alice", Age: "25", Contact: "5551234", Category: interfaces.Individual}
	receipt   = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0xabc")}
)

func typedHandles(h interfaces.AthleteHandles) bool {
	return h.Name[31] == byte(interfaces.FieldName) &&
		h.Age[31] == byte(interfaces.FieldAge) &&
		h.Contact[31] == byte(interfaces.FieldContact) &&
		h.Name != h.Age && h.Age != h.Contact
}

func TestRegisterAthlete(t *testing.T) {
	f := newRegistrationFixture(t)
	assert.True(t, f.workflow.CanRegister())

	f.ledger.On("RegisterAthlete", mock.Anything, mock.AnythingOfType("*bind.TransactOpts"),
		mock.MatchedBy(typedHandles), interfaces.Individual).Return(receipt, nil).Once()

	require.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))

	f.ledger.AssertNumberOfCalls(t, "RegisterAthlete", 1)
	assert.Equal(t, int32(3), f.engine.encrypts.Load())

	status := f.workflow.Status()
	assert.Equal(t, StateRegistered, status.State)
	assert.True(t, status.IsRegistered)
	assert.False(t, status.IsRegistering)
	assert.Equal(t, f.signer.Address(), status.Owner)
	assert.Equal(t, receipt.TxHash, status.TxHash)
	assert.NoError(t, status.Err)
	assert.False(t, f.workflow.CanRegister())
}

func TestRegisterAthleteValidation(t *testing.T) {
	tests := []struct {
		name string
		form RegistrationForm
	}{
		{"empty name", RegistrationForm{Name: "", Age: "25", Contact: "5551234"}},
		{"blank name", RegistrationForm{Name: "   ", Age: "25", Contact: "5551234"}},
		{"age not a number", RegistrationForm{Name: "Alice", Age: "twenty", Contact: "5551234"}},
		{"age zero", RegistrationForm{Name: "Alice", Age: "0", Contact: "5551234"}},
		{"age too large", RegistrationForm{Name: "Alice", Age: "300", Contact: "5551234"}},
		{"contact not a number", RegistrationForm{Name: "Alice", Age: "25", Contact: "555-1234"}},
		{"unknown category", RegistrationForm{Name: "Alice", Age: "25", Contact: "5551234", Category: interfaces.SportCategory(9)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newRegistrationFixture(t)

			err := f.workflow.RegisterAthlete(context.Background(), tc.form)
			assert.ErrorIs(t, err, interfaces.ErrValidation)

			assert.Zero(t, f.engine.encrypts.Load())
			f.ledger.AssertNotCalled(t, "RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

			status := f.workflow.Status()
			assert.Equal(t, StateIdle, status.State)
			assert.ErrorIs(t, status.Err, interfaces.ErrValidation)
			assert.NotEmpty(t, status.Message)
			assert.True(t, f.workflow.CanRegister())
		})
	}
}

func TestRegisterAthleteIgnoresDoubleSubmit(t *testing.T) {
	f := newRegistrationFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, interfaces.Individual).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(receipt, nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.workflow.RegisterAthlete(context.Background(), aliceForm) }()
	<-entered

	status := f.workflow.Status()
	assert.Equal(t, StateSubmitting, status.State)
	assert.True(t, status.IsRegistering)
	assert.False(t, f.workflow.CanRegister())

	assert.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))

	close(release)
	require.NoError(t, <-done)

	// Once registered, further submissions are no-ops too.
	assert.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))

	f.ledger.AssertNumberOfCalls(t, "RegisterAthlete", 1)
	assert.Equal(t, int32(3), f.engine.encrypts.Load())
}

func TestRegisterAthleteTransactionFailure(t *testing.T) {
	f := newRegistrationFixture(t)

	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, interfaces.Individual).
		Return(nil, fmt.Errorf("%w: Athlete already registered", interfaces.ErrTransaction)).Once()
	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, interfaces.Individual).
		Return(receipt, nil).Once()

	err := f.workflow.RegisterAthlete(context.Background(), aliceForm)
	assert.ErrorIs(t, err, interfaces.ErrTransaction)

	status := f.workflow.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.False(t, status.IsRegistered)
	assert.ErrorIs(t, status.Err, interfaces.ErrTransaction)
	assert.Contains(t, status.Message, "Athlete already registered")

	// Failed allows a retry.
	assert.True(t, f.workflow.CanRegister())
	require.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))
	assert.Equal(t, StateRegistered, f.workflow.Status().State)
}

func TestRegisterAthleteWrapsLedgerErrors(t *testing.T) {
	f := newRegistrationFixture(t)

	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("user rejected transaction")).Once()

	err := f.workflow.RegisterAthlete(context.Background(), aliceForm)
	assert.ErrorIs(t, err, interfaces.ErrTransaction)
	assert.Equal(t, StateFailed, f.workflow.Status().State)
}

func TestRegisterAthleteEncryptionFailure(t *testing.T) {
	f := newRegistrationFixture(t)
	f.engine.encryptErr = errors.New("relayer unavailable")

	err := f.workflow.RegisterAthlete(context.Background(), aliceForm)
	assert.Error(t, err)

	assert.Equal(t, StateFailed, f.workflow.Status().State)
	assert.Equal(t, int32(1), f.engine.encrypts.Load())
	f.ledger.AssertNotCalled(t, "RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegisterAthleteEngineNotReady(t *testing.T) {
	f := newRegistrationFixture(t)
	f.engine.ready.Store(false)
	assert.False(t, f.workflow.CanRegister())

	err := f.workflow.RegisterAthlete(context.Background(), aliceForm)
	assert.ErrorIs(t, err, interfaces.ErrEngineNotReady)

	status := f.workflow.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.NoError(t, status.Err)
	assert.Empty(t, status.Message)
	assert.Zero(t, f.engine.encrypts.Load())
	f.ledger.AssertNotCalled(t, "RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Readiness arriving later lets the same form through.
	f.engine.ready.Store(true)
	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, interfaces.Individual).Return(receipt, nil).Once()
	require.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))
	assert.Equal(t, StateRegistered, f.workflow.Status().State)
}

func TestRegisterAthleteRequiresConnection(t *testing.T) {
	f := newRegistrationFixture(t)
	f.provider.Disconnect()

	assert.False(t, f.workflow.CanRegister())
	err := f.workflow.RegisterAthlete(context.Background(), aliceForm)
	assert.ErrorIs(t, err, interfaces.ErrNotConnected)
	assert.Equal(t, StateIdle, f.workflow.Status().State)
}

func TestRegisterAthleteDiscardsResultAfterSessionChange(t *testing.T) {
	f := newRegistrationFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(receipt, nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.workflow.RegisterAthlete(context.Background(), aliceForm) }()
	<-entered

	require.NoError(t, f.provider.SwitchAccount(newPromptSigner(t)))
	assert.Equal(t, StateIdle, f.workflow.Status().State)

	close(release)
	assert.ErrorIs(t, <-done, interfaces.ErrStaleSession)

	status := f.workflow.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.False(t, status.IsRegistered)
	assert.Equal(t, common.Address{}, status.Owner)
}

func TestSyncRegistration(t *testing.T) {
	f := newRegistrationFixture(t)
	f.ledger.On("IsRegistered", mock.Anything, f.signer.Address()).Return(true, nil).Once()

	registered, err := f.workflow.SyncRegistration(context.Background())
	require.NoError(t, err)
	assert.True(t, registered)

	status := f.workflow.Status()
	assert.Equal(t, StateRegistered, status.State)
	assert.True(t, status.IsRegistered)
	assert.False(t, f.workflow.CanRegister())

	assert.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))
	f.ledger.AssertNotCalled(t, "RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncRegistrationUnregistered(t *testing.T) {
	f := newRegistrationFixture(t)
	f.ledger.On("IsRegistered", mock.Anything, f.signer.Address()).Return(false, nil).Once()

	registered, err := f.workflow.SyncRegistration(context.Background())
	require.NoError(t, err)
	assert.False(t, registered)
	assert.Equal(t, StateIdle, f.workflow.Status().State)
	assert.True(t, f.workflow.CanRegister())
}

func TestSessionChangeResetsRegistration(t *testing.T) {
	f := newRegistrationFixture(t)
	f.ledger.On("RegisterAthlete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(receipt, nil).Once()
	require.NoError(t, f.workflow.RegisterAthlete(context.Background(), aliceForm))

	f.provider.SwitchChain(1, &nopBackend{})

	status := f.workflow.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.False(t, status.IsRegistered)
	assert.Empty(t, status.Message)
}

func TestRegisterAthleteHonoursContext(t *testing.T) {
	f := newRegistrationFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := f.workflow.RegisterAthlete(ctx, aliceForm)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, f.workflow.Status().State)
}
