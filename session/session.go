// Package session tracks wallet connectivity and the active network, and
// notifies subscribers when either changes.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// Session is an immutable snapshot of the wallet connection.
// Signer is non-nil iff Connected.
type Session struct {
	Connected bool
	ChainID   uint64
	Signer    interfaces.Signer
	Reader    interfaces.ChainBackend
	Epoch     uint64
}

// Identity is the (network, signer) pair that decides whether cached engine
// readiness and authorizations still apply. Epoch changes on every update so a
// reconnect of the same account is a new identity.
type Identity struct {
	ChainID uint64
	Account common.Address
	Epoch   uint64
}

// String returns a compact form for logging.
func (id Identity) String() string {
	return fmt.Sprintf("%d/%s/%d", id.ChainID, id.Account.Hex(), id.Epoch)
}

// Identity returns the session identity.
func (s Session) Identity() Identity {
	id := Identity{ChainID: s.ChainID, Epoch: s.Epoch}
	if s.Signer != nil {
		id.Account = s.Signer.Address()
	}
	return id
}

// Ready reports whether the session has everything workflows need.
func (s Session) Ready() bool {
	return s.Connected && s.Signer != nil && s.Reader != nil
}

// ErrNoSigner is returned when connecting without a signer capability.
var ErrNoSigner = errors.New("connect requires a signer")

// Provider holds the current Session. Connectivity changes are reported to it
// as observed; it never initiates them.
type Provider struct {
	mu      sync.Mutex
	current Session

	// notifyMu serializes notifications so subscribers see updates in order.
	notifyMu    sync.Mutex
	subsMu      sync.Mutex
	nextSubID   int
	subscribers map[int]func(Session)
	order       []int

	log *slog.Logger
}

// NewProvider creates a disconnected provider.
func NewProvider(log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		subscribers: make(map[int]func(Session)),
		log:         log,
	}
}

// Snapshot returns the current session.
func (p *Provider) Snapshot() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers fn to be called after every session change, in
// registration order. The returned function removes the subscription.
func (p *Provider) Subscribe(fn func(Session)) (unsubscribe func()) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn
	p.order = append(p.order, id)

	return func() {
		p.subsMu.Lock()
		defer p.subsMu.Unlock()
		delete(p.subscribers, id)
		for i, sid := range p.order {
			if sid == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
}

// Connect records a wallet connection on chainID.
func (p *Provider) Connect(signer interfaces.Signer, chainID uint64, reader interfaces.ChainBackend) error {
	if signer == nil {
		return ErrNoSigner
	}
	p.update(func(s *Session) {
		s.Connected = true
		s.Signer = signer
		s.ChainID = chainID
		s.Reader = reader
	})
	p.log.Info("Wallet connected", "account", signer.Address().Hex(), "chainID", chainID)
	return nil
}

// Disconnect records a wallet disconnection.
func (p *Provider) Disconnect() {
	p.update(func(s *Session) {
		s.Connected = false
		s.Signer = nil
		s.Reader = nil
	})
	p.log.Info("Wallet disconnected")
}

// SwitchChain records a network switch. The wallet stays connected.
func (p *Provider) SwitchChain(chainID uint64, reader interfaces.ChainBackend) {
	p.update(func(s *Session) {
		s.ChainID = chainID
		s.Reader = reader
	})
	p.log.Info("Network switched", "chainID", chainID)
}

// SwitchAccount records an account switch inside a connected wallet.
func (p *Provider) SwitchAccount(signer interfaces.Signer) error {
	if signer == nil {
		return ErrNoSigner
	}
	p.update(func(s *Session) {
		s.Connected = true
		s.Signer = signer
	})
	p.log.Info("Account switched", "account", signer.Address().Hex())
	return nil
}

func (p *Provider) update(mutate func(*Session)) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	next := p.current
	mutate(&next)
	next.Epoch = p.current.Epoch + 1
	p.current = next
	p.mu.Unlock()

	p.subsMu.Lock()
	fns := make([]func(Session), 0, len(p.order))
	for _, id := range p.order {
		fns = append(fns, p.subscribers[id])
	}
	p.subsMu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}
