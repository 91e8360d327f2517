// Package authcache caches owner-signed decryption authorizations so one
// signature prompt serves many decryption requests.
package authcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the validity window of new authorizations.
const DefaultTTL = 24 * time.Hour

type key struct {
	owner    common.Address
	contract common.Address
}

type entry struct {
	auth   *interfaces.Authorization
	signer interfaces.Signer
}

// Config configures a Cache.
type Config struct {
	TTL   time.Duration
	Clock clock.Clock
	Log   *slog.Logger
}

// Cache holds at most one live authorization per (owner, contract).
// Concurrent requests for the same key share a single signature prompt.
type Cache struct {
	ttl   time.Duration
	clock clock.Clock
	log   *slog.Logger

	mu         sync.Mutex
	entries    map[key]entry
	generation uint64

	inflight singleflight.Group
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Cache{
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		log:     cfg.Log,
		entries: make(map[key]entry),
	}
}

// Bind invalidates the cache on every session change reported by provider.
func (c *Cache) Bind(provider *session.Provider) (unsubscribe func()) {
	return provider.Subscribe(func(session.Session) { c.Invalidate() })
}

// Invalidate drops every entry. Signatures in flight when Invalidate is
// called are returned to their callers but never stored.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if len(c.entries) > 0 {
		c.log.Debug("Dropping cached decryption authorizations", "count", len(c.entries))
	}
	c.entries = make(map[key]entry)
}

// Len returns the number of cached authorizations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(k key, signer interfaces.Signer) (*interfaces.Authorization, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if ok && e.signer == signer && c.clock.Now().Before(e.auth.ValidUntil) {
		return e.auth, c.generation, true
	}
	return nil, c.generation, false
}

// GetOrCreate returns a live authorization for (owner, contract) produced by
// signer, asking signer for a new one on a miss. A signing failure is
// reported as interfaces.ErrAuthorizationDenied and leaves the cache as it was.
func (c *Cache) GetOrCreate(ctx context.Context, owner, contract common.Address, signer interfaces.Signer) (*interfaces.Authorization, error) {
	if signer == nil {
		return nil, interfaces.ErrNotConnected
	}
	if signer.Address() != owner {
		return nil, fmt.Errorf("%w: signer %s does not control %s", interfaces.ErrAuthorizationDenied, signer.Address().Hex(), owner.Hex())
	}

	k := key{owner: owner, contract: contract}
	auth, generation, ok := c.lookup(k, signer)
	if ok {
		return auth, nil
	}

	flightKey := fmt.Sprintf("%s/%s/%d/%p", owner.Hex(), contract.Hex(), generation, signer)

	// The prompt outlives whichever caller started it; each caller only
	// stops waiting on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(flightKey, func() (interface{}, error) {
		// A concurrent flight may have just stored an entry.
		if auth, _, ok := c.lookup(k, signer); ok {
			return auth, nil
		}
		return c.create(flightCtx, k, signer, generation)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*interfaces.Authorization), nil
	}
}

func (c *Cache) create(ctx context.Context, k key, signer interfaces.Signer, generation uint64) (*interfaces.Authorization, error) {
	validFrom := c.clock.Now().Truncate(time.Second)
	validUntil := validFrom.Add(c.ttl)

	challenge, err := interfaces.ChallengeHash(k.owner, k.contract, validFrom, validUntil)
	if err != nil {
		return nil, err
	}

	c.log.Info("Requesting decryption authorization signature",
		"owner", k.owner.Hex(), "contract", k.contract.Hex(), "validUntil", validUntil)

	sig, err := signer.SignChallenge(ctx, challenge)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.log.Debug("Decryption authorization request abandoned", "owner", k.owner.Hex(), "err", err)
		return nil, err
	}
	if err != nil {
		c.log.Warn("Decryption authorization not signed", "owner", k.owner.Hex(), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthorizationDenied, err)
	}

	auth := &interfaces.Authorization{
		Owner:      k.owner,
		Contract:   k.contract,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Signature:  sig,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		c.log.Debug("Not caching authorization signed for a superseded session", "owner", k.owner.Hex())
		return auth, nil
	}
	c.entries[k] = entry{auth: auth, signer: signer}
	return auth, nil
}
