// File: internal/driver/process.go
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/browserd/api/schemas"
)

// Process is a single headless browser OS process. It owns the exec allocator
// and the controller context (the browser-level CDP connection) that session
// creation commands are issued against.
type Process struct {
	id string

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// browserCtx is the browser controller context. Browser-scoped CDP
	// commands (Target.createBrowserContext etc.) are executed against it.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// contextCreationLock serializes browser-context/target creation on this
	// process; concurrent Target.createTarget calls can confuse chromedp's
	// target attachment.
	contextCreationLock sync.Mutex

	mu         sync.Mutex
	state      schemas.ProcessState
	launchedAt time.Time
}

func newProcess(id string) *Process {
	return &Process{
		id:         id,
		state:      schemas.ProcessStarting,
		launchedAt: time.Now(),
	}
}

// ID returns the process identifier.
func (p *Process) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Process) State() schemas.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Age is the time since launch.
func (p *Process) Age() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.launchedAt)
}

// markReady transitions starting -> ready.
func (p *Process) markReady() bool {
	return p.transition(schemas.ProcessReady, schemas.ProcessStarting)
}

// MarkCrashed transitions a live process to crashed. Terminated processes
// stay terminated.
func (p *Process) MarkCrashed() bool {
	return p.transition(schemas.ProcessCrashed, schemas.ProcessStarting, schemas.ProcessReady)
}

// markTerminated records a deliberate teardown. A crashed process may still
// be terminated; the transition is one-way.
func (p *Process) markTerminated() bool {
	return p.transition(schemas.ProcessTerminated,
		schemas.ProcessStarting, schemas.ProcessReady, schemas.ProcessCrashed)
}

func (p *Process) transition(to schemas.ProcessState, from ...schemas.ProcessState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range from {
		if p.state == f {
			p.state = to
			return true
		}
	}
	return false
}
