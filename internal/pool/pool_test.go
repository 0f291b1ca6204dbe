// File: internal/pool/pool_test.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
)

// -- Fake Driver Implementation --

type fakeProcess struct {
	id         string
	mu         sync.Mutex
	state      schemas.ProcessState
	launchedAt time.Time
}

func (p *fakeProcess) ID() string { return p.id }

func (p *fakeProcess) State() schemas.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakeProcess) MarkCrashed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return false
	}
	p.state = schemas.ProcessCrashed
	return true
}

func (p *fakeProcess) Age() time.Duration { return time.Since(p.launchedAt) }

type fakeSession struct {
	id        string
	processID string
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
}

func (s *fakeSession) ID() string               { return s.id }
func (s *fakeSession) ProcessID() string        { return s.processID }
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) Invalidate()              { s.cancel() }
func (s *fakeSession) CreatedAt() time.Time     { return s.createdAt }

type fakeDriver struct {
	mu         sync.Mutex
	seq        int
	launches   int
	sessions   int
	closed     []string
	terminated []string
	launchErr  error
	probeErr   map[string]error
}

func (d *fakeDriver) Launch(ctx context.Context) (schemas.BrowserProcess, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	d.seq++
	return &fakeProcess{
		id:         fmt.Sprintf("proc-%d", d.seq),
		state:      schemas.ProcessReady,
		launchedAt: time.Now(),
	}, nil
}

func (d *fakeDriver) NewSession(ctx context.Context, proc schemas.BrowserProcess) (schemas.BrowserSession, error) {
	if proc.State() != schemas.ProcessReady {
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, nil, "process not ready")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions++
	sctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{
		id:        fmt.Sprintf("sess-%d", d.sessions),
		processID: proc.ID(),
		ctx:       sctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}, nil
}

func (d *fakeDriver) CloseSession(ctx context.Context, sess schemas.BrowserSession) {
	sess.Invalidate()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = append(d.closed, sess.ID())
}

func (d *fakeDriver) Probe(ctx context.Context, proc schemas.BrowserProcess) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.probeErr == nil {
		return nil
	}
	return d.probeErr[proc.ID()]
}

func (d *fakeDriver) Terminate(proc schemas.BrowserProcess) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminated = append(d.terminated, proc.ID())
}

func (d *fakeDriver) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *fakeDriver) closedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.closed...)
}

// -- Helpers --

func testConfig(maxProcs, sessionsPerProc int) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Browser.MaxProcesses = maxProcs
	cfg.Browser.MaxSessionsPerProcess = sessionsPerProc
	cfg.Pool.AcquireTimeout = 250 * time.Millisecond
	// Keep the pacing out of the way; specific tests tighten it.
	cfg.Pool.LaunchesPerMinute = 6000
	return cfg
}

func newTestPool(t *testing.T, cfg *config.Config, drv *fakeDriver) *Pool {
	t.Helper()
	p := New(cfg, drv, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, p.Shutdown(ctx))
	})
	return p
}

// -- Tests --

func TestPoolAcquireLaunchesOnDemand(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(2, 2), drv)

	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)

	stats := p.Stats()
	assert.Equal(t, 1, stats.ReadyProcesses)
	assert.Equal(t, 1, stats.InUseSessions)
	assert.Equal(t, 0, stats.IdleSessions)
	assert.Equal(t, 1, drv.launchCount())
}

func TestPoolReusesIdleSession(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(1, 2), drv)

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(first)
	require.Equal(t, 1, p.Stats().IdleSessions)

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID(), "idle session should be reused")
	assert.Equal(t, 1, drv.launchCount())
}

func TestPoolAcquireUniqueSessions(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(2, 2), drv)

	seen := make(map[string]struct{})
	for i := 0; i < 4; i++ {
		sess, err := p.Acquire(context.Background())
		require.NoError(t, err)
		_, dup := seen[sess.ID()]
		require.False(t, dup, "session %s handed out twice", sess.ID())
		seen[sess.ID()] = struct{}{}
	}
	stats := p.Stats()
	assert.Equal(t, 4, stats.InUseSessions)
	assert.Equal(t, 4, stats.HighWaterMark)
}

func TestPoolExhaustionReportsBusy(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(1, 2), drv)

	for i := 0; i < 2; i++ {
		_, err := p.Acquire(context.Background())
		require.NoError(t, err)
	}

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, schemas.ErrServiceBusy, schemas.KindOf(err))

	// Occupancy never exceeded capacity.
	stats := p.Stats()
	assert.LessOrEqual(t, stats.InUseSessions+stats.IdleSessions, 2)
}

func TestPoolHandoffToWaiter(t *testing.T) {
	drv := &fakeDriver{}
	cfg := testConfig(1, 1)
	cfg.Pool.AcquireTimeout = 2 * time.Second
	p := newTestPool(t, cfg, drv)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan schemas.BrowserSession, 1)
	go func() {
		sess, err := p.Acquire(context.Background())
		if err == nil {
			got <- sess
		}
		close(got)
	}()

	// Give the waiter time to queue up, then free the session.
	time.Sleep(50 * time.Millisecond)
	p.Release(held)

	select {
	case sess, ok := <-got:
		require.True(t, ok, "waiter should have received a session")
		assert.Equal(t, held.ID(), sess.ID(), "released session should be handed off directly")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never got a session")
	}
}

func TestPoolReleaseDiscardsInvalidatedSession(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(1, 2), drv)

	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)

	sess.Invalidate()
	p.Release(sess)

	stats := p.Stats()
	assert.Equal(t, 0, stats.IdleSessions)
	assert.Equal(t, 0, stats.InUseSessions)
	assert.Contains(t, drv.closedIDs(), sess.ID())
}

func TestPoolReapsCrashedProcess(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(2, 2), drv)

	inUse, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(idle)

	// Both sessions live on proc-1. Fail its probe and sweep.
	drv.mu.Lock()
	drv.probeErr = map[string]error{inUse.ProcessID(): errors.New("no response")}
	drv.mu.Unlock()
	p.probeAll()

	assert.Error(t, inUse.Context().Err(), "in-use session should be invalidated on crash")
	stats := p.Stats()
	assert.Equal(t, 0, stats.ReadyProcesses)
	assert.Equal(t, 0, stats.IdleSessions)

	// Release of the dead session discards it rather than parking it.
	p.Release(inUse)
	assert.Equal(t, 0, p.Stats().IdleSessions)

	// The next acquire launches a replacement.
	drv.mu.Lock()
	drv.probeErr = nil
	drv.mu.Unlock()
	replacement, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, inUse.ProcessID(), replacement.ProcessID())
	assert.Equal(t, 2, drv.launchCount())
}

func TestPoolIdleExpiry(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPool(t, testConfig(1, 2), drv)

	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(sess)
	require.Equal(t, 1, p.Stats().IdleSessions)

	// Sweep as if idle_expiry had elapsed.
	p.sweepIdle(time.Now().Add(p.cfg.IdleExpiry + time.Second))

	stats := p.Stats()
	assert.Equal(t, 0, stats.IdleSessions)
	assert.Equal(t, 1, stats.SessionsExpired)
	assert.Contains(t, drv.closedIDs(), sess.ID())
}

func TestPoolLaunchBreakerOpens(t *testing.T) {
	drv := &fakeDriver{launchErr: schemas.NewTaskError(schemas.ErrLaunch, nil, "spawn failed")}
	cfg := testConfig(1, 1)
	cfg.Pool.LaunchFailureThreshold = 2
	cfg.Pool.LaunchCooldown = time.Hour
	p := newTestPool(t, cfg, drv)

	for i := 0; i < 2; i++ {
		_, err := p.Acquire(context.Background())
		require.Error(t, err)
		assert.Equal(t, schemas.ErrLaunch, schemas.KindOf(err))
	}

	// Breaker is open now: no more launch attempts reach the driver.
	before := drv.launchCount()
	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, schemas.ErrLaunch, schemas.KindOf(err))
	assert.Equal(t, before, drv.launchCount())
	assert.Equal(t, 3, p.Stats().LaunchesFailed)
}

func TestPoolShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	drv := &fakeDriver{}
	p := New(testConfig(1, 2), drv, zap.NewNop())

	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)
	procID := sess.ProcessID()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	drv.mu.Lock()
	terminated := append([]string(nil), drv.terminated...)
	drv.mu.Unlock()
	assert.Contains(t, terminated, procID)
	assert.Contains(t, drv.closedIDs(), sess.ID())

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, schemas.ErrServiceBusy, schemas.KindOf(err))

	// Shutdown is idempotent.
	require.NoError(t, p.Shutdown(ctx))
}
