package session

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *KeySigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeySigner(key)
}

func TestProviderConnectDisconnect(t *testing.T) {
	p := NewProvider(nil)
	assert.False(t, p.Snapshot().Connected)

	backend := simulated.NewBackend(nil)
	defer backend.Close()

	signer := newTestSigner(t)
	require.NoError(t, p.Connect(signer, 1337, backend.Client()))

	s := p.Snapshot()
	assert.True(t, s.Connected)
	assert.True(t, s.Ready())
	assert.Equal(t, uint64(1337), s.ChainID)
	assert.Equal(t, signer.Address(), s.Identity().Account)

	p.Disconnect()
	s = p.Snapshot()
	assert.False(t, s.Connected)
	assert.Nil(t, s.Signer)
	assert.Nil(t, s.Reader)
	assert.False(t, s.Ready())
}

func TestProviderRejectsNilSigner(t *testing.T) {
	p := NewProvider(nil)
	assert.ErrorIs(t, p.Connect(nil, 1, nil), ErrNoSigner)
	assert.ErrorIs(t, p.SwitchAccount(nil), ErrNoSigner)
	assert.False(t, p.Snapshot().Connected)
}

func TestProviderIdentityChangesOnEveryUpdate(t *testing.T) {
	p := NewProvider(nil)
	signer := newTestSigner(t)

	require.NoError(t, p.Connect(signer, 1, nil))
	first := p.Snapshot().Identity()

	p.SwitchChain(2, nil)
	second := p.Snapshot().Identity()
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(2), second.ChainID)

	// Reconnecting the same account is still a new identity.
	require.NoError(t, p.Connect(signer, 2, nil))
	third := p.Snapshot().Identity()
	assert.Equal(t, second.Account, third.Account)
	assert.NotEqual(t, second, third)
}

func TestProviderNotifiesInOrder(t *testing.T) {
	p := NewProvider(nil)

	var calls []string
	p.Subscribe(func(s Session) { calls = append(calls, "a") })
	unsubscribe := p.Subscribe(func(s Session) { calls = append(calls, "b") })

	require.NoError(t, p.Connect(newTestSigner(t), 1, nil))
	assert.Equal(t, []string{"a", "b"}, calls)

	unsubscribe()
	p.Disconnect()
	assert.Equal(t, []string{"a", "b", "a"}, calls)
}

func TestProviderSubscriberSeesNewSnapshot(t *testing.T) {
	p := NewProvider(nil)
	var seen Session
	p.Subscribe(func(s Session) {
		seen = s
		assert.Equal(t, s, p.Snapshot())
	})

	signer := newTestSigner(t)
	require.NoError(t, p.Connect(signer, 5, nil))
	assert.Equal(t, uint64(5), seen.ChainID)
	assert.Equal(t, signer, seen.Signer)
}

func TestKeySignerChallengeVerifies(t *testing.T) {
	signer := newTestSigner(t)
	contract := common.HexToAddress("0x1000000000000000000000000000000000000001")
	now := time.Now()

	challenge, err := interfaces.ChallengeHash(signer.Address(), contract, now, now.Add(time.Hour))
	require.NoError(t, err)
	sig, err := signer.SignChallenge(context.Background(), challenge)
	require.NoError(t, err)

	auth := &interfaces.Authorization{
		Owner:      signer.Address(),
		Contract:   contract,
		ValidFrom:  now,
		ValidUntil: now.Add(time.Hour),
		Signature:  sig,
	}
	assert.NoError(t, auth.Verify(now.Add(time.Second)))
}

func TestKeySignerFromHex(t *testing.T) {
	signer, err := NewKeySignerFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), signer.Address())

	opts, err := signer.TransactOpts(context.Background(), 1337)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), opts.From)

	_, err = NewKeySignerFromHex("not-a-key")
	assert.Error(t, err)
}

func TestKeySignerHonoursCancelledContext(t *testing.T) {
	signer := newTestSigner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := signer.SignChallenge(ctx, [32]byte{})
	assert.ErrorIs(t, err, context.Canceled)
}
