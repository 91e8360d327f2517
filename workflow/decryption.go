package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
)

// DecryptionStatus is a snapshot for presentation.
type DecryptionStatus struct {
	Record   *interfaces.EncryptedAthleteRecord
	Clear    *interfaces.ClearAthleteRecord
	InFlight bool
	Message  string
	Err      error
}

// DecryptionWorkflow fetches the connected account's encrypted record and
// decrypts it on request.
type DecryptionWorkflow struct {
	engine  Engine
	ledgers interfaces.LedgerFactory
	auths   Authorizer
	log     *slog.Logger

	mu      sync.Mutex
	session tracker
	record  *interfaces.EncryptedAthleteRecord
	clear   *interfaces.ClearAthleteRecord
	running uint64
	nextOp  uint64
	message string
	err     error

	unsubscribe func()
}

// NewDecryptionWorkflow creates a workflow following provider.
func NewDecryptionWorkflow(provider *session.Provider, eng Engine, ledgers interfaces.LedgerFactory, auths Authorizer, log *slog.Logger) *DecryptionWorkflow {
	if log == nil {
		log = slog.Default()
	}
	w := &DecryptionWorkflow{
		engine:  eng,
		ledgers: ledgers,
		auths:   auths,
		log:     log,
	}
	w.unsubscribe = provider.Subscribe(w.HandleSessionChange)
	w.HandleSessionChange(provider.Snapshot())
	return w
}

// Close detaches the workflow from its provider.
func (w *DecryptionWorkflow) Close() {
	w.unsubscribe()
}

// HandleSessionChange forgets everything fetched for the previous session.
// A running operation may finish but cannot commit.
func (w *DecryptionWorkflow) HandleSessionChange(s session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.session.accept(s) {
		return
	}
	w.record = nil
	w.clear = nil
	w.running = 0
	w.message = ""
	w.err = nil
}

// Status returns the current status.
func (w *DecryptionWorkflow) Status() DecryptionStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return DecryptionStatus{
		Record:   w.record,
		Clear:    w.clear,
		InFlight: w.running != 0,
		Message:  w.message,
		Err:      w.err,
	}
}

// CanRefresh reports whether RefreshAthleteInfo may start.
func (w *DecryptionWorkflow) CanRefresh() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.current.Connected && w.running == 0
}

// CanDecrypt reports whether DecryptAthleteInfo may start.
func (w *DecryptionWorkflow) CanDecrypt() bool {
	w.mu.Lock()
	id := w.session.current.Identity()
	ok := w.record != nil && w.running == 0
	w.mu.Unlock()
	return ok && w.engine.ReadyFor(id)
}

// CanCheckAge reports whether CheckAgeRequirement may start.
func (w *DecryptionWorkflow) CanCheckAge() bool {
	w.mu.Lock()
	hasClear := w.clear != nil
	running := w.running != 0
	w.mu.Unlock()
	if running {
		return false
	}
	return hasClear || w.CanDecrypt()
}

// begin claims the workflow for one operation on the current session.
func (w *DecryptionWorkflow) begin() (session.Session, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.session.current
	if !s.Connected || s.Signer == nil {
		return s, 0, interfaces.ErrNotConnected
	}
	if w.running != 0 {
		return s, 0, ErrBusy
	}
	w.nextOp++
	w.running = w.nextOp
	w.err = nil
	return s, w.running, nil
}

// finishLocked releases operation op. It reports false when the session
// changed while op was running; the caller must not commit its result.
func (w *DecryptionWorkflow) finishLocked(op uint64, id session.Identity) bool {
	if w.running != op || w.session.current.Identity() != id {
		return false
	}
	w.running = 0
	return true
}

// RefreshAthleteInfo re-reads the connected account's record from the
// ledger and drops any cleartext.
func (w *DecryptionWorkflow) RefreshAthleteInfo(ctx context.Context) error {
	s, op, err := w.begin()
	if err != nil {
		return err
	}
	id := s.Identity()

	var record *interfaces.EncryptedAthleteRecord
	ledger, err := w.ledgers.LedgerFor(s.Reader)
	if err == nil {
		record, err = ledger.GetAthleteRecord(ctx, id.Account)
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			record, err = nil, nil
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.finishLocked(op, id) {
		return interfaces.ErrStaleSession
	}
	if err != nil {
		w.err = err
		w.message = fmt.Sprintf("Could not load athlete record: %v", err)
		return err
	}

	w.record = record
	w.clear = nil
	if record == nil {
		w.message = "No registration found"
	} else {
		w.message = fmt.Sprintf("Registered in %s", record.Category)
	}
	w.log.Debug("Athlete record refreshed", "owner", id.Account.Hex(), "found", record != nil)
	return nil
}

// DecryptAthleteInfo obtains a decryption authorization and decrypts the
// fetched record. A failure keeps the previous cleartext.
func (w *DecryptionWorkflow) DecryptAthleteInfo(ctx context.Context) (*interfaces.ClearAthleteRecord, error) {
	w.mu.Lock()
	record := w.record
	if record == nil {
		// A running refresh owns the status.
		if w.running == 0 {
			w.err = interfaces.ErrNoRecord
			w.message = interfaces.ErrNoRecord.Error()
		}
		w.mu.Unlock()
		return nil, interfaces.ErrNoRecord
	}
	w.mu.Unlock()

	s, op, err := w.begin()
	if err != nil {
		return nil, err
	}
	id := s.Identity()

	w.mu.Lock()
	record = w.record
	w.mu.Unlock()
	if record == nil {
		return nil, w.abort(op, id, interfaces.ErrNoRecord)
	}

	cleartext, err := w.decrypt(ctx, s, record)
	if err != nil {
		return nil, w.abort(op, id, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.finishLocked(op, id) {
		return nil, interfaces.ErrStaleSession
	}
	w.clear = cleartext
	w.message = "Athlete information decrypted"
	w.log.Info("Athlete information decrypted", "owner", id.Account.Hex())
	return cleartext, nil
}

func (w *DecryptionWorkflow) abort(op uint64, id session.Identity, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.finishLocked(op, id) {
		return interfaces.ErrStaleSession
	}
	w.err = err
	w.message = fmt.Sprintf("Decryption failed: %v", err)
	w.log.Warn("Decryption failed", "err", err, "owner", id.Account.Hex())
	return err
}

func (w *DecryptionWorkflow) decrypt(ctx context.Context, s session.Session, record *interfaces.EncryptedAthleteRecord) (*interfaces.ClearAthleteRecord, error) {
	id := s.Identity()

	ledger, err := w.ledgers.LedgerFor(s.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryption, err)
	}

	auth, err := w.auths.GetOrCreate(ctx, id.Account, ledger.Address(), s.Signer)
	if err != nil {
		return nil, err
	}

	handles := record.Handles
	values, err := w.engine.Decrypt(ctx, id, handles.All(), auth)
	if err != nil {
		if errors.Is(err, interfaces.ErrEngineNotReady) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryption, err)
	}

	name, ok := values[handles.Name]
	if !ok {
		return nil, fmt.Errorf("%w: no plaintext for name", interfaces.ErrDecryption)
	}
	age, err := uintValue(values, handles.Age, interfaces.FieldAge)
	if err != nil {
		return nil, err
	}
	contact, err := uintValue(values, handles.Contact, interfaces.FieldContact)
	if err != nil {
		return nil, err
	}

	return &interfaces.ClearAthleteRecord{
		Name:    string(name),
		Age:     age,
		Contact: contact,
	}, nil
}

func uintValue(values map[interfaces.Handle][]byte, h interfaces.Handle, kind interfaces.FieldKind) (uint64, error) {
	raw, ok := values[h]
	if !ok {
		return 0, fmt.Errorf("%w: no plaintext for %s", interfaces.ErrDecryption, kind)
	}
	v, err := interfaces.DecodeUint(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", interfaces.ErrDecryption, kind, err)
	}
	return v, nil
}

// CheckAgeRequirement reports whether the athlete meets the minimum age of
// category, decrypting the record first if no cleartext is held.
func (w *DecryptionWorkflow) CheckAgeRequirement(ctx context.Context, category interfaces.SportCategory) (bool, error) {
	if !category.Valid() {
		return false, fmt.Errorf("%w: unknown sport category %d", interfaces.ErrValidation, category)
	}

	w.mu.Lock()
	cleartext := w.clear
	w.mu.Unlock()

	if cleartext == nil {
		var err error
		cleartext, err = w.DecryptAthleteInfo(ctx)
		if err != nil {
			return false, err
		}
	}

	eligible := cleartext.Age >= category.MinAge()
	w.log.Debug("Age requirement checked", "category", category, "minAge", category.MinAge(), "eligible", eligible)
	return eligible, nil
}
