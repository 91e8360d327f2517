package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
)

// DefaultStabilizationDelay is how long a connection must settle before the
// engine is brought up, so initialization does not race provider injection.
const DefaultStabilizationDelay = time.Second

// Status is the engine lifecycle status.
type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Error
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// State is a lifecycle snapshot. Identity is the session the state belongs to;
// Reason is set only in Error.
type State struct {
	Status   Status
	Reason   error
	Identity session.Identity
}

// Config configures a Lifecycle.
type Config struct {
	StabilizationDelay time.Duration
	Clock              clock.Clock
	Log                *slog.Logger
}

// Lifecycle brings up a confidential engine for the current session and
// tears it down whenever the session identity changes.
type Lifecycle struct {
	factory interfaces.EngineFactory
	clock   clock.Clock
	delay   time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	current session.Session
	state   State
	engine  interfaces.ConfidentialEngine
	timer   *clock.Timer
	cancel  context.CancelFunc

	// notifyMu is held from a state commit until every listener has seen
	// it, so listeners observe transitions in commit order.
	notifyMu    sync.Mutex
	listenersMu sync.Mutex
	nextID      int
	listeners   map[int]func(State)
	order       []int

	unsubscribe func()
}

// NewLifecycle creates a lifecycle driven by provider. It starts from the
// provider's current session.
func NewLifecycle(provider *session.Provider, factory interfaces.EngineFactory, cfg Config) *Lifecycle {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.StabilizationDelay < 0 {
		cfg.StabilizationDelay = 0
	}

	l := &Lifecycle{
		factory:   factory,
		clock:     cfg.Clock,
		delay:     cfg.StabilizationDelay,
		log:       cfg.Log,
		listeners: make(map[int]func(State)),
	}
	l.unsubscribe = provider.Subscribe(l.HandleSessionChange)
	l.HandleSessionChange(provider.Snapshot())
	return l
}

// Close detaches from the provider and abandons any in-flight initialization.
func (l *Lifecycle) Close() {
	l.unsubscribe()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.engine = nil
}

// HandleSessionChange resets the lifecycle to Idle for s and, when s is
// connected, arms the stabilization timer.
func (l *Lifecycle) HandleSessionChange(s session.Session) {
	id := s.Identity()

	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if s.Epoch < l.current.Epoch {
		l.mu.Unlock()
		return
	}
	l.stopLocked()
	l.current = s
	l.engine = nil
	l.state = State{Status: Idle, Identity: id}
	if s.Ready() {
		l.timer = l.clock.AfterFunc(l.delay, func() { l.startLoading(id) })
	}
	state := l.state
	l.mu.Unlock()

	l.log.Debug("Engine reset", "identity", id.String(), "connected", s.Connected)
	l.notify(state)
}

func (l *Lifecycle) stopLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *Lifecycle) startLoading(id session.Identity) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.current.Identity() != id || l.state.Status != Idle {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.timer = nil
	l.state = State{Status: Loading, Identity: id}
	chainID := l.current.ChainID
	signer := l.current.Signer
	state := l.state
	l.mu.Unlock()

	l.log.Info("Initializing confidential engine", "chainID", chainID, "account", id.Account.Hex())
	l.notify(state)

	go func() {
		eng, err := l.factory.New(ctx, chainID, signer)
		l.commit(ctx, id, eng, err)
	}()
}

func (l *Lifecycle) commit(ctx context.Context, id session.Identity, eng interfaces.ConfidentialEngine, err error) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if ctx.Err() != nil || l.current.Identity() != id || l.state.Status != Loading {
		l.mu.Unlock()
		l.log.Debug("Discarding engine initialization for superseded session", "identity", id.String())
		return
	}
	l.cancel = nil
	if err != nil {
		l.state = State{Status: Error, Reason: err, Identity: id}
	} else {
		l.engine = eng
		l.state = State{Status: Ready, Identity: id}
	}
	state := l.state
	l.mu.Unlock()

	if err != nil {
		l.log.Error("Confidential engine initialization failed", "err", err)
	} else {
		l.log.Info("Confidential engine ready", "identity", id.String())
	}
	l.notify(state)
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ReadyFor reports whether the engine is Ready for id and id is current.
func (l *Lifecycle) ReadyFor(id session.Identity) bool {
	_, err := l.engineFor(id)
	return err == nil
}

func (l *Lifecycle) engineFor(id session.Identity) (interfaces.ConfidentialEngine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status != Ready || l.state.Identity != id || l.current.Identity() != id || l.engine == nil {
		return nil, fmt.Errorf("%w: engine is %s", interfaces.ErrEngineNotReady, l.state.Status)
	}
	return l.engine, nil
}

// Encrypt encrypts field with the engine of session id.
func (l *Lifecycle) Encrypt(ctx context.Context, id session.Identity, target interfaces.EncryptTarget, field interfaces.Field) (interfaces.Handle, error) {
	eng, err := l.engineFor(id)
	if err != nil {
		return interfaces.Handle{}, err
	}
	return eng.Encrypt(ctx, target, field)
}

// Decrypt requests plaintexts for handles with the engine of session id.
func (l *Lifecycle) Decrypt(ctx context.Context, id session.Identity, handles []interfaces.Handle, auth *interfaces.Authorization) (map[interfaces.Handle][]byte, error) {
	eng, err := l.engineFor(id)
	if err != nil {
		return nil, err
	}
	return eng.UserDecrypt(ctx, handles, auth)
}

// Subscribe registers fn for state changes, delivered in commit order and
// to listeners in registration order. Calls may arrive from any goroutine.
// A slow fn delays later transitions; fn must not change the session.
func (l *Lifecycle) Subscribe(fn func(State)) (unsubscribe func()) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.order = append(l.order, id)
	return func() {
		l.listenersMu.Lock()
		defer l.listenersMu.Unlock()
		delete(l.listeners, id)
		for i, lid := range l.order {
			if lid == id {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}

// notify must be called with notifyMu held.
func (l *Lifecycle) notify(state State) {
	l.listenersMu.Lock()
	fns := make([]func(State), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.listeners[id])
	}
	l.listenersMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// WaitReady blocks until the engine is Ready for the current session and
// returns that session identity. It fails when initialization ends in Error.
func (l *Lifecycle) WaitReady(ctx context.Context) (session.Identity, error) {
	wake := make(chan struct{}, 1)
	unsubscribe := l.Subscribe(func(State) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		state := l.State()
		switch state.Status {
		case Ready:
			return state.Identity, nil
		case Error:
			return session.Identity{}, fmt.Errorf("%w: %v", interfaces.ErrEngineNotReady, state.Reason)
		}

		select {
		case <-ctx.Done():
			return session.Identity{}, ctx.Err()
		case <-wake:
		}
	}
}
