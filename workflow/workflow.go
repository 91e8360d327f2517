package workflow

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
)

// ErrBusy is returned when a decryption workflow operation is already running.
var ErrBusy = errors.New("operation already in progress")

// Engine is the part of the engine lifecycle the workflows use.
type Engine interface {
	ReadyFor(id session.Identity) bool
	Encrypt(ctx context.Context, id session.Identity, target interfaces.EncryptTarget, field interfaces.Field) (interfaces.Handle, error)
	Decrypt(ctx context.Context, id session.Identity, handles []interfaces.Handle, auth *interfaces.Authorization) (map[interfaces.Handle][]byte, error)
}

// Authorizer hands out decryption authorizations.
type Authorizer interface {
	GetOrCreate(ctx context.Context, owner, contract common.Address, signer interfaces.Signer) (*interfaces.Authorization, error)
}

// tracker holds the session a workflow last saw. Subscriptions deliver
// sessions in order, but the initial snapshot may race the first delivery.
type tracker struct {
	current session.Session
}

func (t *tracker) accept(s session.Session) bool {
	if s.Epoch < t.current.Epoch {
		return false
	}
	t.current = s
	return true
}
