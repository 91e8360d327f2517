package workflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/confidential-athlete-registry/authcache"
	"github.com/ruteri/confidential-athlete-registry/engine"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/ledger"
	"github.com/ruteri/confidential-athlete-registry/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndDecryptWithEngineLifecycle(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))

	local, err := engine.NewLocalEngine(testChainID, bytes.Repeat([]byte{0x11}, 32), mock)
	require.NoError(t, err)
	factory := &engine.LocalFactory{Engines: map[uint64]*engine.LocalEngine{testChainID: local}}

	provider := session.NewProvider(nil)
	lifecycle := engine.NewLifecycle(provider, factory, engine.Config{Clock: mock})
	defer lifecycle.Close()

	cache := authcache.New(authcache.Config{Clock: mock})
	defer cache.Bind(provider)()

	memLedger := ledger.NewMemoryLedger(contractAddr, mock)
	registration := NewRegistrationWorkflow(provider, lifecycle, memLedger, nil)
	defer registration.Close()
	decryption := NewDecryptionWorkflow(provider, lifecycle, memLedger, cache, nil)
	defer decryption.Close()

	signer := newPromptSigner(t)
	require.NoError(t, provider.Connect(signer, testChainID, &nopBackend{}))
	assert.False(t, registration.CanRegister())

	mock.Add(engine.DefaultStabilizationDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = lifecycle.WaitReady(ctx)
	require.NoError(t, err)
	require.True(t, registration.CanRegister())

	require.NoError(t, registration.RegisterAthlete(ctx, aliceForm))
	assert.True(t, registration.Status().IsRegistered)
	require.Len(t, memLedger.Events(), 1)

	require.NoError(t, decryption.RefreshAthleteInfo(ctx))
	require.True(t, decryption.CanDecrypt())

	plain, err := decryption.DecryptAthleteInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", plain.Name)
	assert.Equal(t, uint64(25), plain.Age)
	assert.Equal(t, uint64(5551234), plain.Contact)

	eligible, err := decryption.CheckAgeRequirement(ctx, interfaces.Combat)
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Equal(t, int32(1), signer.prompts.Load())

	// A reconnect resets everything until the engine comes back.
	provider.Disconnect()
	require.NoError(t, provider.Connect(signer, testChainID, &nopBackend{}))
	assert.False(t, decryption.CanDecrypt())
	assert.False(t, registration.Status().IsRegistered)

	mock.Add(engine.DefaultStabilizationDelay)
	_, err = lifecycle.WaitReady(ctx)
	require.NoError(t, err)

	registered, err := registration.SyncRegistration(ctx)
	require.NoError(t, err)
	assert.True(t, registered)
	assert.False(t, registration.CanRegister())
}
