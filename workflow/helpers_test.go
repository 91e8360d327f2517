package workflow

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-athlete-registry/engine"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const testChainID = 31337

var contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeEngine stands in for the engine lifecycle: readiness is set by the
// test, operations go to a LocalEngine.
type fakeEngine struct {
	local      *engine.LocalEngine
	ready      atomic.Bool
	encryptErr error
	decryptErr error
	encrypts   atomic.Int32
	decrypts   atomic.Int32
}

func newFakeEngine(t *testing.T) *fakeEngine {
	local, err := engine.NewLocalEngine(testChainID, bytes.Repeat([]byte{0x42}, 32), nil)
	require.NoError(t, err)
	e := &fakeEngine{local: local}
	e.ready.Store(true)
	return e
}

func (e *fakeEngine) ReadyFor(session.Identity) bool {
	return e.ready.Load()
}

func (e *fakeEngine) Encrypt(ctx context.Context, _ session.Identity, target interfaces.EncryptTarget, field interfaces.Field) (interfaces.Handle, error) {
	if !e.ready.Load() {
		return interfaces.Handle{}, interfaces.ErrEngineNotReady
	}
	e.encrypts.Inc()
	if e.encryptErr != nil {
		return interfaces.Handle{}, e.encryptErr
	}
	return e.local.Encrypt(ctx, target, field)
}

func (e *fakeEngine) Decrypt(ctx context.Context, _ session.Identity, handles []interfaces.Handle, auth *interfaces.Authorization) (map[interfaces.Handle][]byte, error) {
	if !e.ready.Load() {
		return nil, interfaces.ErrEngineNotReady
	}
	e.decrypts.Inc()
	if e.decryptErr != nil {
		return nil, e.decryptErr
	}
	return e.local.UserDecrypt(ctx, handles, auth)
}

// promptSigner counts signature prompts. It can hold them until released
// or reject them, like a wallet.
type promptSigner struct {
	*session.KeySigner
	prompts atomic.Int32
	gate    chan struct{}
	reject  error
}

func newPromptSigner(t *testing.T) *promptSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &promptSigner{KeySigner: session.NewKeySigner(key)}
}

func (s *promptSigner) SignChallenge(ctx context.Context, challenge [32]byte) ([]byte, error) {
	s.prompts.Inc()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.reject != nil {
		return nil, s.reject
	}
	return s.KeySigner.SignChallenge(ctx, challenge)
}

// nopBackend satisfies interfaces.ChainBackend for sessions whose reader is
// never dialed.
type nopBackend struct {
	interfaces.ChainBackend
}
