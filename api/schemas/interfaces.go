package schemas

import (
	"context"
	"time"
)

// -- Shared Component Contracts --

// BrowserProcess is one OS-level browser instance owned by the driver.
type BrowserProcess interface {
	ID() string
	State() ProcessState
	// MarkCrashed transitions the process to crashed. It reports whether the
	// transition happened (false when already in a terminal state).
	MarkCrashed() bool
	// Age is the time since launch.
	Age() time.Duration
}

// BrowserSession is an isolated browsing context (cookies/storage/viewport)
// inside a BrowserProcess. At most one task drives a session at a time; the
// pool enforces that.
type BrowserSession interface {
	ID() string
	ProcessID() string
	// Context carries the CDP target of this session. Driver calls issued
	// against it block only the issuing task.
	Context() context.Context
	// Invalidate cancels the session context, aborting any in-flight driver
	// call. Used when the owning process crashes.
	Invalidate()
	// CreatedAt is the session creation time.
	CreatedAt() time.Time
}

// BrowserDriver abstracts process and session lifecycle so the pool can be
// exercised without a real browser binary.
type BrowserDriver interface {
	Launch(ctx context.Context) (BrowserProcess, error)
	NewSession(ctx context.Context, proc BrowserProcess) (BrowserSession, error)
	CloseSession(ctx context.Context, sess BrowserSession)
	Probe(ctx context.Context, proc BrowserProcess) error
	Terminate(proc BrowserProcess)
}
