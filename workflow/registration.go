package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
)

// RegistrationState is the registration workflow state.
type RegistrationState int

const (
	StateIdle RegistrationState = iota
	StateValidating
	StateEncrypting
	StateSubmitting
	StateRegistered
	StateFailed
)

// String returns the state name.
func (s RegistrationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateEncrypting:
		return "encrypting"
	case StateSubmitting:
		return "submitting"
	case StateRegistered:
		return "registered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InFlight reports whether s belongs to a running registration.
func (s RegistrationState) InFlight() bool {
	return s == StateValidating || s == StateEncrypting || s == StateSubmitting
}

// RegistrationStatus is a snapshot for presentation.
type RegistrationStatus struct {
	State         RegistrationState
	IsRegistering bool
	IsRegistered  bool
	Owner         common.Address
	TxHash        common.Hash
	Message       string
	Err           error
}

// RegistrationWorkflow validates, encrypts and submits one athlete
// registration per session identity.
type RegistrationWorkflow struct {
	engine  Engine
	ledgers interfaces.LedgerFactory
	log     *slog.Logger

	mu         sync.Mutex
	session    tracker
	state      RegistrationState
	registered bool
	owner      common.Address
	txHash     common.Hash
	message    string
	err        error

	unsubscribe func()
}

// NewRegistrationWorkflow creates a workflow following provider.
func NewRegistrationWorkflow(provider *session.Provider, eng Engine, ledgers interfaces.LedgerFactory, log *slog.Logger) *RegistrationWorkflow {
	if log == nil {
		log = slog.Default()
	}
	w := &RegistrationWorkflow{
		engine:  eng,
		ledgers: ledgers,
		log:     log,
	}
	w.unsubscribe = provider.Subscribe(w.HandleSessionChange)
	w.HandleSessionChange(provider.Snapshot())
	return w
}

// Close detaches the workflow from its provider.
func (w *RegistrationWorkflow) Close() {
	w.unsubscribe()
}

// HandleSessionChange resets the workflow for s. A registration still in
// flight keeps running but its result is discarded.
func (w *RegistrationWorkflow) HandleSessionChange(s session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.session.accept(s) {
		return
	}
	if w.state.InFlight() {
		w.log.Info("Session changed during registration, result will be discarded", "state", w.state)
	}
	w.state = StateIdle
	w.registered = false
	w.owner = common.Address{}
	w.txHash = common.Hash{}
	w.message = ""
	w.err = nil
}

// Status returns the current status.
func (w *RegistrationWorkflow) Status() RegistrationStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return RegistrationStatus{
		State:         w.state,
		IsRegistering: w.state.InFlight(),
		IsRegistered:  w.registered,
		Owner:         w.owner,
		TxHash:        w.txHash,
		Message:       w.message,
		Err:           w.err,
	}
}

// CanRegister reports whether a registration may start now.
func (w *RegistrationWorkflow) CanRegister() bool {
	w.mu.Lock()
	s := w.session.current
	idle := w.state == StateIdle || w.state == StateFailed
	registered := w.registered
	w.mu.Unlock()

	return s.Connected && idle && !registered && w.engine.ReadyFor(s.Identity())
}

// advance moves to next if id is still current. It reports false when the
// session changed, in which case the workflow was already reset.
func (w *RegistrationWorkflow) advance(id session.Identity, next RegistrationState, message string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.current.Identity() != id {
		return false
	}
	w.state = next
	w.message = message
	w.log.Debug("Registration state", "state", next, "identity", id.String())
	return true
}

func (w *RegistrationWorkflow) fail(id session.Identity, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.current.Identity() != id {
		return interfaces.ErrStaleSession
	}
	w.state = StateFailed
	w.err = err
	w.message = fmt.Sprintf("Registration failed: %v", err)
	w.log.Warn("Registration failed", "err", err, "identity", id.String())
	return err
}

// RegisterAthlete validates form, encrypts its confidential fields for the
// connected account and submits them to the ledger, waiting for the
// receipt. It is a no-op while another registration is in flight or once the
// account is registered.
func (w *RegistrationWorkflow) RegisterAthlete(ctx context.Context, form RegistrationForm) error {
	w.mu.Lock()
	s := w.session.current
	if w.state.InFlight() || w.state == StateRegistered || w.registered {
		state := w.state
		w.mu.Unlock()
		w.log.Debug("Ignoring registration request", "state", state)
		return nil
	}
	if !s.Connected || s.Signer == nil {
		w.mu.Unlock()
		return interfaces.ErrNotConnected
	}
	id := s.Identity()
	if !w.engine.ReadyFor(id) {
		w.mu.Unlock()
		return interfaces.ErrEngineNotReady
	}
	previous := w.state
	w.state = StateValidating
	w.message = "Validating registration"
	w.err = nil
	w.mu.Unlock()

	reg, err := form.Validate()
	if err != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.session.current.Identity() != id {
			return interfaces.ErrStaleSession
		}
		w.state = previous
		w.err = err
		w.message = err.Error()
		return err
	}

	ledger, err := w.ledgers.LedgerFor(s.Reader)
	if err != nil {
		return w.fail(id, err)
	}

	if !w.advance(id, StateEncrypting, "Encrypting registration data") {
		return interfaces.ErrStaleSession
	}

	target := interfaces.EncryptTarget{Contract: ledger.Address(), Owner: id.Account}
	fields := reg.Fields()
	handles := make([]interfaces.Handle, len(fields))
	for i, field := range fields {
		h, err := w.engine.Encrypt(ctx, id, target, field)
		if err != nil {
			return w.fail(id, fmt.Errorf("encrypting %s: %w", field.Kind, err))
		}
		handles[i] = h
	}

	if !w.advance(id, StateSubmitting, "Submitting registration") {
		return interfaces.ErrStaleSession
	}

	opts, err := s.Signer.TransactOpts(ctx, s.ChainID)
	if err != nil {
		return w.fail(id, fmt.Errorf("%w: %v", interfaces.ErrTransaction, err))
	}

	athleteHandles := interfaces.AthleteHandles{Name: handles[0], Age: handles[1], Contact: handles[2]}
	receipt, err := ledger.RegisterAthlete(ctx, opts, athleteHandles, reg.Category)
	if err != nil {
		if !errors.Is(err, interfaces.ErrTransaction) {
			err = fmt.Errorf("%w: %v", interfaces.ErrTransaction, err)
		}
		return w.fail(id, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.current.Identity() != id {
		w.log.Info("Registration mined for a superseded session", "tx", receipt.TxHash.Hex())
		return interfaces.ErrStaleSession
	}
	w.state = StateRegistered
	w.registered = true
	w.owner = id.Account
	w.txHash = receipt.TxHash
	w.message = "Athlete registered"
	w.log.Info("Athlete registered", "owner", id.Account.Hex(), "category", reg.Category, "tx", receipt.TxHash.Hex())
	return nil
}

// SyncRegistration asks the ledger whether the connected account is already
// registered and, if so, moves an idle workflow to Registered.
func (w *RegistrationWorkflow) SyncRegistration(ctx context.Context) (bool, error) {
	w.mu.Lock()
	s := w.session.current
	w.mu.Unlock()

	if !s.Connected || s.Signer == nil {
		return false, interfaces.ErrNotConnected
	}
	id := s.Identity()

	ledger, err := w.ledgers.LedgerFor(s.Reader)
	if err != nil {
		return false, err
	}
	registered, err := ledger.IsRegistered(ctx, id.Account)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.current.Identity() != id {
		return false, interfaces.ErrStaleSession
	}
	if registered && !w.state.InFlight() {
		w.state = StateRegistered
		w.registered = true
		w.owner = id.Account
		w.message = "Athlete registered"
		w.err = nil
	}
	return registered, nil
}
