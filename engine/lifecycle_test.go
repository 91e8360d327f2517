package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
	"github.com/ruteri/confidential-athlete-registry/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBackend struct {
	interfaces.ChainBackend
}

// stubFactory hands out engines; when release is set, New blocks on it and
// ignores cancellation so late results can be observed.
type stubFactory struct {
	mu      sync.Mutex
	calls   []uint64
	release chan struct{}
	err     error
	engine  interfaces.ConfidentialEngine
}

func (f *stubFactory) New(ctx context.Context, chainID uint64, _ interfaces.Signer) (interfaces.ConfidentialEngine, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chainID)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.engine, nil
}

func (f *stubFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newLocalEngine(t *testing.T, chainID uint64, clk clock.Clock) *LocalEngine {
	eng, err := NewLocalEngine(chainID, make([]byte, 32), clk)
	require.NoError(t, err)
	return eng
}

func newSigner(t *testing.T) *session.KeySigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return session.NewKeySigner(key)
}

func waitStatus(t *testing.T, l *Lifecycle, status Status) State {
	t.Helper()
	require.Eventually(t, func() bool { return l.State().Status == status }, time.Second, time.Millisecond)
	return l.State()
}

func TestLifecycleWaitsForStabilization(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{engine: newLocalEngine(t, 1337, mock)}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	assert.Equal(t, Idle, l.State().Status)

	require.NoError(t, provider.Connect(newSigner(t), 1337, nopBackend{}))
	assert.Equal(t, Idle, l.State().Status)

	mock.Add(500 * time.Millisecond)
	assert.Equal(t, Idle, l.State().Status)
	assert.Equal(t, 0, factory.callCount())

	mock.Add(500 * time.Millisecond)
	state := waitStatus(t, l, Ready)
	assert.Equal(t, provider.Snapshot().Identity(), state.Identity)
	assert.True(t, l.ReadyFor(provider.Snapshot().Identity()))
	assert.Equal(t, 1, factory.callCount())
}

func TestLifecycleDoesNotLoadWithoutConnection(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	mock.Add(time.Minute)
	assert.Equal(t, Idle, l.State().Status)
	assert.Equal(t, 0, factory.callCount())
}

func TestLifecycleDisconnectCancelsTimer(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{engine: newLocalEngine(t, 1, mock)}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	require.NoError(t, provider.Connect(newSigner(t), 1, nopBackend{}))
	provider.Disconnect()
	mock.Add(time.Minute)

	assert.Equal(t, Idle, l.State().Status)
	assert.Equal(t, 0, factory.callCount())
}

func TestLifecycleDiscardsStaleReady(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	release := make(chan struct{})
	factory := &stubFactory{release: release, engine: newLocalEngine(t, 1, mock)}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	var mu sync.Mutex
	var observed []State
	l.Subscribe(func(s State) {
		mu.Lock()
		observed = append(observed, s)
		mu.Unlock()
	})

	require.NoError(t, provider.Connect(newSigner(t), 1, nopBackend{}))
	stale := provider.Snapshot().Identity()
	mock.Add(time.Second)
	waitStatus(t, l, Loading)

	// Network switch while the first initialization is in flight.
	provider.SwitchChain(2, nopBackend{})
	current := provider.Snapshot().Identity()
	assert.Equal(t, Idle, l.State().Status)

	// The first initialization resolves late and must be dropped.
	release <- struct{}{}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Idle, l.State().Status)
	assert.False(t, l.ReadyFor(stale))

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return factory.callCount() == 2 }, time.Second, time.Millisecond)
	close(release)
	state := waitStatus(t, l, Ready)
	assert.Equal(t, current, state.Identity)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range observed {
		if s.Status == Ready {
			assert.Equal(t, current, s.Identity, "ready observed for superseded session")
		}
	}
}

func TestLifecycleDeliversTransitionsInCommitOrder(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{engine: newLocalEngine(t, 1, mock)}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	entered := make(chan struct{})
	resume := make(chan struct{})
	var mu sync.Mutex
	var delivered []State
	var once sync.Once
	l.Subscribe(func(s State) {
		if s.Status == Ready {
			once.Do(func() {
				close(entered)
				<-resume
			})
		}
		mu.Lock()
		delivered = append(delivered, s)
		mu.Unlock()
	})

	var order []int
	l.Subscribe(func(State) { order = append(order, 1) })
	l.Subscribe(func(State) { order = append(order, 2) })

	require.NoError(t, provider.Connect(newSigner(t), 1, nopBackend{}))
	mock.Add(time.Second)
	<-entered

	// Switch networks while the Ready delivery is still being handed out.
	switched := make(chan struct{})
	go func() {
		provider.SwitchChain(2, nopBackend{})
		close(switched)
	}()

	close(resume)
	<-switched

	current := provider.Snapshot().Identity()
	assert.Equal(t, Idle, l.State().Status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, delivered)
	last := delivered[len(delivered)-1]
	assert.Equal(t, Idle, last.Status)
	assert.Equal(t, current, last.Identity)

	for i := 0; i+1 < len(order); i += 2 {
		assert.Equal(t, []int{1, 2}, order[i:i+2])
	}
}

func TestLifecycleErrorWithoutRetry(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{err: errors.New("network unreachable")}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	require.NoError(t, provider.Connect(newSigner(t), 1, nopBackend{}))
	mock.Add(time.Second)

	state := waitStatus(t, l, Error)
	assert.EqualError(t, state.Reason, "network unreachable")

	mock.Add(time.Hour)
	assert.Equal(t, Error, l.State().Status)
	assert.Equal(t, 1, factory.callCount())

	_, err := l.WaitReady(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrEngineNotReady)

	// Reconnecting re-triggers initialization.
	factory.err = nil
	factory.engine = newLocalEngine(t, 1, mock)
	require.NoError(t, provider.Connect(newSigner(t), 1, nopBackend{}))
	mock.Add(time.Second)
	waitStatus(t, l, Ready)
	assert.Equal(t, 2, factory.callCount())
}

func TestLifecycleEncryptRequiresCurrentReadyIdentity(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{engine: newLocalEngine(t, 1, mock)}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	signer := newSigner(t)
	require.NoError(t, provider.Connect(signer, 1, nopBackend{}))
	id := provider.Snapshot().Identity()
	target := interfaces.EncryptTarget{Contract: common.HexToAddress("0x1"), Owner: signer.Address()}

	_, err := l.Encrypt(context.Background(), id, target, interfaces.UintField(interfaces.FieldAge, 25))
	assert.ErrorIs(t, err, interfaces.ErrEngineNotReady)

	mock.Add(time.Second)
	waitStatus(t, l, Ready)

	h, err := l.Encrypt(context.Background(), id, target, interfaces.UintField(interfaces.FieldAge, 25))
	require.NoError(t, err)
	assert.False(t, h.IsZero())

	provider.SwitchChain(1, nopBackend{})
	_, err = l.Encrypt(context.Background(), id, target, interfaces.UintField(interfaces.FieldAge, 25))
	assert.ErrorIs(t, err, interfaces.ErrEngineNotReady)
}

func TestLifecycleWaitReady(t *testing.T) {
	mock := clock.NewMock()
	provider := session.NewProvider(nil)
	factory := &stubFactory{engine: newLocalEngine(t, 1, mock)}
	l := NewLifecycle(provider, factory, Config{StabilizationDelay: time.Second, Clock: mock})
	defer l.Close()

	require.NoError(t, provider.Connect(newSigner(t), 1, nopBackend{}))

	done := make(chan session.Identity, 1)
	go func() {
		id, err := l.WaitReady(context.Background())
		assert.NoError(t, err)
		done <- id
	}()

	mock.Add(time.Second)
	select {
	case id := <-done:
		assert.Equal(t, provider.Snapshot().Identity(), id)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return")
	}

	ctx, cancel := context.WithCancel(context.Background())
	provider.Disconnect()
	cancel()
	_, err := l.WaitReady(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
