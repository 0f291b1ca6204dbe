// File: internal/pool/pool.go

// Package pool maintains warm browser processes and hands out isolated
// sessions to tasks. It owns every lifecycle decision: when to reuse an idle
// session, when to create one on an existing process, when to launch a new
// process, and when to give up and report the service as busy.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
)

// procEntry tracks one launched process and how many sessions (idle or in
// use) are carved out of it.
type procEntry struct {
	proc     schemas.BrowserProcess
	sessions int
}

// idleSession is a parked session awaiting reuse.
type idleSession struct {
	sess  schemas.BrowserSession
	since time.Time
}

// waiter is a blocked Acquire call. A non-nil session on ch is a direct
// handoff and is already accounted as in-use; nil means capacity may have
// freed up and the waiter should retry.
type waiter struct {
	ch chan schemas.BrowserSession
}

// Pool multiplexes sessions over a bounded set of browser processes.
// Invariant: in-use sessions + idle sessions never exceed
// max_processes * max_sessions_per_process.
type Pool struct {
	cfg        config.PoolConfig
	browserCfg config.BrowserConfig
	driver     schemas.BrowserDriver
	logger     *zap.Logger

	mu        sync.Mutex
	closed    bool
	procs     map[string]*procEntry
	idle      []*idleSession
	inUse     map[string]schemas.BrowserSession
	waiters   []*waiter
	launching int

	highWaterMark   int
	launchesFailed  int
	sessionsExpired int

	breaker       *gobreaker.CircuitBreaker[schemas.BrowserProcess]
	launchLimiter *rate.Limiter

	lifecycleCtx    context.Context
	cancelLifecycle context.CancelFunc
	wg              sync.WaitGroup
}

// New builds the pool and starts its janitor and health-probe loops. Call
// Shutdown to stop them.
func New(cfg *config.Config, drv schemas.BrowserDriver, logger *zap.Logger) *Pool {
	lifecycleCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:             cfg.Pool,
		browserCfg:      cfg.Browser,
		driver:          drv,
		logger:          logger.Named("pool"),
		procs:           make(map[string]*procEntry),
		inUse:           make(map[string]schemas.BrowserSession),
		lifecycleCtx:    lifecycleCtx,
		cancelLifecycle: cancel,
	}

	p.breaker = gobreaker.NewCircuitBreaker[schemas.BrowserProcess](gobreaker.Settings{
		Name:    "browser-launch",
		Timeout: cfg.Pool.LaunchCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.Pool.LaunchFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Launch breaker state changed.",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	// The limiter paces relaunches after crashes; the burst lets the pool
	// fill up from cold without throttling.
	p.launchLimiter = rate.NewLimiter(
		rate.Limit(cfg.Pool.LaunchesPerMinute/60.0), cfg.Browser.MaxProcesses)

	p.wg.Add(2)
	go p.janitorLoop()
	go p.healthLoop()
	return p
}

// Acquire returns an exclusive session, reusing an idle one when possible.
// It blocks up to pool.acquire_timeout (bounded further by ctx) and fails
// with service_busy when the pool and its queue stay saturated.
func (p *Pool) Acquire(ctx context.Context) (schemas.BrowserSession, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, schemas.NewTaskError(schemas.ErrServiceBusy, nil, "pool is shut down")
		}

		// 1. Reuse a parked session.
		if sess, discards := p.takeIdleLocked(); sess != nil || len(discards) > 0 {
			if sess != nil {
				p.inUse[sess.ID()] = sess
				p.noteHighWaterLocked()
			}
			p.mu.Unlock()
			p.closeSessions(discards)
			if sess != nil {
				return sess, nil
			}
			continue
		}

		// 2. Carve a new session out of a process with a spare slot.
		if entry := p.pickProcLocked(); entry != nil {
			entry.sessions++
			p.mu.Unlock()
			return p.createSession(actx, entry)
		}

		// 3. Launch a new process when a slot is free.
		if len(p.procs)+p.launching < p.browserCfg.MaxProcesses {
			p.launching++
			p.mu.Unlock()
			if err := p.launchProcess(actx); err != nil {
				return nil, err
			}
			continue
		}

		// 4. Full: queue up for a handoff.
		w := &waiter{ch: make(chan schemas.BrowserSession, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case sess := <-w.ch:
			if sess != nil {
				return sess, nil
			}
			// Capacity may have freed; retry.
		case <-actx.Done():
			p.mu.Lock()
			removed := p.removeWaiterLocked(w)
			p.mu.Unlock()
			if !removed {
				// A handoff raced the timeout; the send has landed or is
				// about to, so reclaim it.
				if sess := <-w.ch; sess != nil {
					p.Release(sess)
				}
			}
			if ctx.Err() != nil {
				return nil, schemas.NewTaskError(schemas.ErrServiceBusy, ctx.Err(), "canceled while waiting for a session")
			}
			return nil, schemas.NewTaskError(schemas.ErrServiceBusy, nil, "no session available within %s", p.cfg.AcquireTimeout)
		}
	}
}

// Release returns a session to the pool. Healthy sessions are handed to a
// waiter or parked idle; sessions whose process died (or whose context was
// invalidated) are discarded. Releasing an unknown session is a no-op.
func (p *Pool) Release(sess schemas.BrowserSession) {
	if sess == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.inUse[sess.ID()]; !ok {
		p.mu.Unlock()
		return
	}
	entry := p.procs[sess.ProcessID()]
	healthy := !p.closed &&
		entry != nil &&
		entry.proc.State() == schemas.ProcessReady &&
		sess.Context().Err() == nil

	if !healthy {
		delete(p.inUse, sess.ID())
		if entry != nil {
			entry.sessions--
		}
		p.wakeOneLocked()
		p.mu.Unlock()
		p.closeSessions([]schemas.BrowserSession{sess})
		return
	}

	if w := p.dequeueWaiterLocked(); w != nil {
		// Direct handoff: the session never leaves the in-use set.
		w.ch <- sess
		p.mu.Unlock()
		return
	}

	delete(p.inUse, sess.ID())
	p.idle = append(p.idle, &idleSession{sess: sess, since: time.Now()})
	p.mu.Unlock()
}

// Stats returns a point-in-time occupancy snapshot.
func (p *Pool) Stats() schemas.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	ready := 0
	for _, entry := range p.procs {
		if entry.proc.State() == schemas.ProcessReady {
			ready++
		}
	}
	return schemas.PoolStats{
		ReadyProcesses:  ready,
		IdleSessions:    len(p.idle),
		InUseSessions:   len(p.inUse),
		HighWaterMark:   p.highWaterMark,
		LaunchesFailed:  p.launchesFailed,
		SessionsExpired: p.sessionsExpired,
	}
}

// Shutdown stops the background loops, fails pending waiters, closes every
// session and terminates every process. Blocks until the loops exit or ctx
// is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	sessions := make([]schemas.BrowserSession, 0, len(p.idle)+len(p.inUse))
	for _, entry := range p.idle {
		sessions = append(sessions, entry.sess)
	}
	for _, sess := range p.inUse {
		sessions = append(sessions, sess)
	}
	p.idle = nil
	p.inUse = make(map[string]schemas.BrowserSession)
	procs := make([]schemas.BrowserProcess, 0, len(p.procs))
	for _, entry := range p.procs {
		procs = append(procs, entry.proc)
	}
	p.procs = make(map[string]*procEntry)
	p.mu.Unlock()

	p.cancelLifecycle()
	for _, w := range waiters {
		w.ch <- nil
	}
	p.closeSessions(sessions)
	for _, proc := range procs {
		p.driver.Terminate(proc)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Pool shut down.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -- acquire helpers --

// takeIdleLocked pops the most recently parked healthy session. Stale entries
// (expired, dead process, invalidated) are returned for closing.
func (p *Pool) takeIdleLocked() (schemas.BrowserSession, []schemas.BrowserSession) {
	var discards []schemas.BrowserSession
	now := time.Now()
	for len(p.idle) > 0 {
		entry := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		pe := p.procs[entry.sess.ProcessID()]
		expired := now.Sub(entry.since) >= p.cfg.IdleExpiry
		dead := pe == nil || pe.proc.State() != schemas.ProcessReady || entry.sess.Context().Err() != nil
		if expired || dead {
			if pe != nil {
				pe.sessions--
			}
			if expired && !dead {
				p.sessionsExpired++
			}
			discards = append(discards, entry.sess)
			continue
		}
		return entry.sess, discards
	}
	return nil, discards
}

// pickProcLocked returns a ready process with a free session slot, preferring
// the least loaded one.
func (p *Pool) pickProcLocked() *procEntry {
	var best *procEntry
	for _, entry := range p.procs {
		if entry.proc.State() != schemas.ProcessReady {
			continue
		}
		if entry.sessions >= p.browserCfg.MaxSessionsPerProcess {
			continue
		}
		if best == nil || entry.sessions < best.sessions {
			best = entry
		}
	}
	return best
}

// createSession turns a reserved slot on entry into a live in-use session.
func (p *Pool) createSession(ctx context.Context, entry *procEntry) (schemas.BrowserSession, error) {
	sess, err := p.driver.NewSession(ctx, entry.proc)

	p.mu.Lock()
	if err != nil {
		entry.sessions--
		p.wakeOneLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		entry.sessions--
		p.mu.Unlock()
		p.closeSessions([]schemas.BrowserSession{sess})
		return nil, schemas.NewTaskError(schemas.ErrServiceBusy, nil, "pool is shut down")
	}
	p.inUse[sess.ID()] = sess
	p.noteHighWaterLocked()
	p.mu.Unlock()
	return sess, nil
}

// launchProcess starts one browser process through the rate limiter and the
// breaker and registers it. The caller must have incremented p.launching.
func (p *Pool) launchProcess(ctx context.Context) error {
	var (
		proc schemas.BrowserProcess
		err  error
	)
	if err = p.launchLimiter.Wait(ctx); err == nil {
		proc, err = p.breaker.Execute(func() (schemas.BrowserProcess, error) {
			return p.driver.Launch(ctx)
		})
	}

	p.mu.Lock()
	p.launching--
	if err != nil {
		p.launchesFailed++
		p.wakeOneLocked()
		p.mu.Unlock()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return schemas.NewTaskError(schemas.ErrLaunch, err, "process launches suspended after repeated failures")
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return schemas.NewTaskError(schemas.ErrLaunch, err, "gave up waiting for a launch slot")
		}
		return err
	}
	if p.closed {
		p.mu.Unlock()
		p.driver.Terminate(proc)
		return schemas.NewTaskError(schemas.ErrServiceBusy, nil, "pool is shut down")
	}
	p.procs[proc.ID()] = &procEntry{proc: proc}
	// A fresh process carries several session slots; let queued acquirers
	// race for them.
	p.wakeAllLocked()
	p.mu.Unlock()
	p.logger.Info("Browser process added to pool.", zap.String("process_id", proc.ID()))
	return nil
}

// -- waiter bookkeeping (all require p.mu) --

func (p *Pool) dequeueWaiterLocked() *waiter {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

func (p *Pool) removeWaiterLocked(target *waiter) bool {
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) wakeOneLocked() {
	if w := p.dequeueWaiterLocked(); w != nil {
		w.ch <- nil
	}
}

func (p *Pool) wakeAllLocked() {
	for _, w := range p.waiters {
		w.ch <- nil
	}
	p.waiters = nil
}

func (p *Pool) noteHighWaterLocked() {
	if n := len(p.inUse); n > p.highWaterMark {
		p.highWaterMark = n
	}
}

// closeSessions tears sessions down outside the pool lock.
func (p *Pool) closeSessions(sessions []schemas.BrowserSession) {
	for _, sess := range sessions {
		p.driver.CloseSession(context.Background(), sess)
	}
}

// -- background loops --

// janitorLoop periodically evicts sessions that sat idle past idle_expiry.
func (p *Pool) janitorLoop() {
	defer p.wg.Done()
	interval := p.cfg.IdleExpiry / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.lifecycleCtx.Done():
			return
		case <-ticker.C:
			p.sweepIdle(time.Now())
		}
	}
}

// sweepIdle discards idle sessions older than idle_expiry.
func (p *Pool) sweepIdle(now time.Time) {
	p.mu.Lock()
	kept := p.idle[:0]
	var discards []schemas.BrowserSession
	for _, entry := range p.idle {
		if now.Sub(entry.since) >= p.cfg.IdleExpiry {
			if pe := p.procs[entry.sess.ProcessID()]; pe != nil {
				pe.sessions--
			}
			p.sessionsExpired++
			discards = append(discards, entry.sess)
			continue
		}
		kept = append(kept, entry)
	}
	p.idle = kept
	if len(discards) > 0 {
		p.wakeOneLocked()
	}
	p.mu.Unlock()

	if len(discards) > 0 {
		p.logger.Debug("Evicted idle sessions.", zap.Int("count", len(discards)))
		p.closeSessions(discards)
	}
}

// healthLoop probes every ready process and reaps the ones that stop
// answering. Replacement processes are launched on demand by Acquire.
func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.lifecycleCtx.Done():
			return
		case <-ticker.C:
			p.probeAll()
		}
	}
}

func (p *Pool) probeAll() {
	p.mu.Lock()
	procs := make([]schemas.BrowserProcess, 0, len(p.procs))
	for _, entry := range p.procs {
		if entry.proc.State() == schemas.ProcessReady {
			procs = append(procs, entry.proc)
		}
	}
	p.mu.Unlock()

	for _, proc := range procs {
		probeCtx, cancel := context.WithTimeout(p.lifecycleCtx, p.cfg.ProbeTimeout)
		err := p.driver.Probe(probeCtx, proc)
		cancel()
		if err == nil {
			continue
		}
		if p.lifecycleCtx.Err() != nil {
			return
		}
		p.logger.Error("Browser process failed health probe; reaping.",
			zap.String("process_id", proc.ID()), zap.Error(err))
		p.reapProcess(proc)
	}
}

// reapProcess removes a crashed process and everything carved out of it.
// In-use sessions are invalidated so their tasks abort promptly; Release
// discards them when they come back.
func (p *Pool) reapProcess(proc schemas.BrowserProcess) {
	proc.MarkCrashed()

	p.mu.Lock()
	delete(p.procs, proc.ID())
	kept := p.idle[:0]
	var discards []schemas.BrowserSession
	for _, entry := range p.idle {
		if entry.sess.ProcessID() == proc.ID() {
			discards = append(discards, entry.sess)
			continue
		}
		kept = append(kept, entry)
	}
	p.idle = kept
	for _, sess := range p.inUse {
		if sess.ProcessID() == proc.ID() {
			sess.Invalidate()
		}
	}
	// A process slot opened up; blocked acquirers can trigger a relaunch.
	p.wakeAllLocked()
	p.mu.Unlock()

	p.closeSessions(discards)
	p.driver.Terminate(proc)
}
