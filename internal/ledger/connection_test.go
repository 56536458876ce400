package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainvista/dlt-gateway/pkg/config"
	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

type fakeSession struct {
	mu       sync.Mutex
	result   []byte
	err      error
	evals    int
	closed   bool
	closeErr error
}

func (f *fakeSession) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	return f.result, f.err
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeSession) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestConnManager(dial func(ctx context.Context) (session, error)) *ConnectionManager {
	cm := NewConnectionManager(&config.FabricConfig{
		PeerEndpoint:     "peer0.org1.example.com:7051",
		ChannelName:      "clinchannel",
		FailureThreshold: 3,
	}, logger.New("error"), nil)
	cm.dial = dial
	return cm
}

func TestConnectionManager_EvaluateBeforeInitialize(t *testing.T) {
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		t.Fatal("dial must not be called")
		return nil, nil
	})

	_, err := cm.Evaluate(context.Background(), "GetChainInfo", "clinchannel")
	require.Error(t, err)
	ge := types.AsGatewayError(err)
	assert.Equal(t, types.ErrorKindUnavailable, ge.Kind)
	assert.Equal(t, types.ErrCodeNotConnected, ge.Code)
	assert.Equal(t, types.SessionUninitialized, cm.CurrentState().Status)
}

func TestConnectionManager_InitializeEstablishesSession(t *testing.T) {
	sess := &fakeSession{result: []byte("info")}
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		return sess, nil
	})

	require.NoError(t, cm.Initialize(context.Background()))
	assert.Equal(t, types.SessionReady, cm.CurrentState().Status)

	raw, err := cm.Evaluate(context.Background(), "GetChainInfo", "clinchannel")
	require.NoError(t, err)
	assert.Equal(t, []byte("info"), raw)
}

func TestConnectionManager_ConcurrentInitialize_SingleDial(t *testing.T) {
	var dials int64
	release := make(chan struct{})
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		atomic.AddInt64(&dials, 1)
		<-release
		return &fakeSession{}, nil
	})

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cm.Initialize(context.Background())
		}(i)
	}
	// Let every caller reach the in-flight attempt before it resolves
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&dials),
		"concurrent initializers must share one connection attempt")
	assert.Equal(t, types.SessionReady, cm.CurrentState().Status)
}

func TestConnectionManager_InitializeAlreadyReadyIsNoop(t *testing.T) {
	var dials int64
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		atomic.AddInt64(&dials, 1)
		return &fakeSession{}, nil
	})

	require.NoError(t, cm.Initialize(context.Background()))
	require.NoError(t, cm.Initialize(context.Background()))
	assert.Equal(t, int64(1), atomic.LoadInt64(&dials))
}

func TestConnectionManager_InitializeFailure(t *testing.T) {
	var dials int64
	dialErr := errors.New("connection refused")
	release := make(chan struct{})
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		atomic.AddInt64(&dials, 1)
		<-release
		return nil, dialErr
	})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cm.Initialize(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.Error(t, errs[i])
		assert.Equal(t, types.ErrorKindUnavailable, types.AsGatewayError(errs[i]).Kind)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&dials), "all waiters observe the one failed attempt")
	assert.Equal(t, types.SessionUninitialized, cm.CurrentState().Status,
		"a failed attempt leaves the session initializable")

	// The next attempt dials again rather than replaying the failure
	require.Error(t, cm.Initialize(context.Background()))
	assert.Equal(t, int64(2), atomic.LoadInt64(&dials))
}

func TestConnectionManager_HealthCheckDegradesAfterThreshold(t *testing.T) {
	sess := &fakeSession{result: []byte("info")}
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		return sess, nil
	})
	require.NoError(t, cm.Initialize(context.Background()))

	sess.setErr(errors.New("peer unreachable"))

	// Below the threshold the session stays READY
	for i := 0; i < 2; i++ {
		require.Error(t, cm.HealthCheck(context.Background()))
		assert.Equal(t, types.SessionReady, cm.CurrentState().Status)
	}

	// The third consecutive failure crosses the threshold
	require.Error(t, cm.HealthCheck(context.Background()))
	state := cm.CurrentState()
	assert.Equal(t, types.SessionDegraded, state.Status)
	assert.Contains(t, state.LastError, "peer unreachable")

	// Queries still flow over the degraded session
	_, err := cm.Evaluate(context.Background(), "GetChainInfo", "clinchannel")
	require.Error(t, err)
	assert.NotEqual(t, types.ErrCodeNotConnected, types.AsGatewayError(err).Code)
}

func TestConnectionManager_HealthCheckRecovery(t *testing.T) {
	sess := &fakeSession{result: []byte("info")}
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		return sess, nil
	})
	require.NoError(t, cm.Initialize(context.Background()))

	sess.setErr(errors.New("peer unreachable"))
	for i := 0; i < 3; i++ {
		cm.HealthCheck(context.Background())
	}
	require.Equal(t, types.SessionDegraded, cm.CurrentState().Status)

	sess.setErr(nil)
	require.NoError(t, cm.HealthCheck(context.Background()))

	state := cm.CurrentState()
	assert.Equal(t, types.SessionReady, state.Status)
	assert.Empty(t, state.LastError)
	assert.False(t, state.LastHealthCheckAt.IsZero())
}

func TestConnectionManager_IntermittentFailuresResetCounter(t *testing.T) {
	sess := &fakeSession{result: []byte("info")}
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		return sess, nil
	})
	require.NoError(t, cm.Initialize(context.Background()))

	sess.setErr(errors.New("blip"))
	cm.HealthCheck(context.Background())
	cm.HealthCheck(context.Background())

	sess.setErr(nil)
	require.NoError(t, cm.HealthCheck(context.Background()))

	// Two more failures do not degrade; the success reset the count
	sess.setErr(errors.New("blip"))
	cm.HealthCheck(context.Background())
	cm.HealthCheck(context.Background())
	assert.Equal(t, types.SessionReady, cm.CurrentState().Status)
}

func TestConnectionManager_ReinitializeClosesPreviousSession(t *testing.T) {
	var sessions []*fakeSession
	var mu sync.Mutex
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		mu.Lock()
		defer mu.Unlock()
		sess := &fakeSession{result: []byte("info")}
		sessions = append(sessions, sess)
		return sess, nil
	})
	require.NoError(t, cm.Initialize(context.Background()))

	sessions[0].setErr(errors.New("transport broken"))
	for i := 0; i < 3; i++ {
		cm.HealthCheck(context.Background())
	}
	require.Equal(t, types.SessionDegraded, cm.CurrentState().Status)

	// Re-initializing dials a fresh session and releases the dead one
	require.NoError(t, cm.Initialize(context.Background()))
	assert.Equal(t, types.SessionReady, cm.CurrentState().Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].closed, "the replaced session must be closed")
	assert.False(t, sessions[1].closed)

	raw, err := cm.Evaluate(context.Background(), "GetChainInfo", "clinchannel")
	require.NoError(t, err)
	assert.Equal(t, []byte("info"), raw)
}

func TestConnectionManager_HealthLoopReconnectsDegradedSession(t *testing.T) {
	var dials int64
	var first *fakeSession
	var mu sync.Mutex
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		atomic.AddInt64(&dials, 1)
		sess := &fakeSession{err: errors.New("transport broken")}
		mu.Lock()
		if first == nil {
			first = sess
		}
		mu.Unlock()
		return sess, nil
	})
	require.NoError(t, cm.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm.StartHealthLoop(ctx, 10*time.Millisecond)

	// Probes fail, the session degrades, and the loop dials a replacement
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&dials) >= 2
	}, 2*time.Second, 10*time.Millisecond, "the health loop must re-dial a degraded session")

	mu.Lock()
	defer mu.Unlock()
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	assert.True(t, closed, "the replaced session must be closed")
}

func TestConnectionManager_Disconnect(t *testing.T) {
	sess := &fakeSession{result: []byte("info")}
	cm := newTestConnManager(func(ctx context.Context) (session, error) {
		return sess, nil
	})
	require.NoError(t, cm.Initialize(context.Background()))

	require.NoError(t, cm.Disconnect())
	assert.True(t, sess.closed)
	assert.Equal(t, types.SessionClosed, cm.CurrentState().Status)

	// Idempotent
	require.NoError(t, cm.Disconnect())

	_, err := cm.Evaluate(context.Background(), "GetChainInfo", "clinchannel")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotConnected, types.AsGatewayError(err).Code)

	err = cm.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotConnected, types.AsGatewayError(err).Code,
		"a closed manager never reconnects")
}
