// File: internal/driver/session.go
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

// Session is one isolated browsing context inside a Process. It carries its
// own cookies, storage and cache; nothing leaks between sessions on the same
// process.
type Session struct {
	id        string
	processID string
	proc      *Process

	browserContextID cdp.BrowserContextID
	ctx              context.Context
	cancel           context.CancelFunc

	createdAt time.Time

	mu       sync.Mutex
	isClosed bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ProcessID identifies the owning browser process.
func (s *Session) ProcessID() string { return s.processID }

// Context is the chromedp context bound to this session's tab.
func (s *Session) Context() context.Context { return s.ctx }

// CreatedAt is the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Invalidate cancels the session context, aborting any in-flight driver call.
// It does not dispose the browsing context; CloseSession does that when the
// owning process is still alive.
func (s *Session) Invalidate() {
	if s.cancel != nil {
		s.cancel()
	}
}

// markClosed flips the closed flag once; further CloseSession calls become
// no-ops.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return false
	}
	s.isClosed = true
	return true
}
