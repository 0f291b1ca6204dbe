// File: internal/driver/context.go
package driver

import (
	"context"
	"time"
)

// CombineContext creates a new context derived from primary that is canceled
// when either primary or secondary is done. It inherits values from primary.
// This matters for chromedp operations where primary carries the CDP target
// info (the session context) and secondary carries the task deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext inherits all values (like CDP target information) from its
// parent but ignores the parent's deadline and cancellation signal.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }

func (valueOnlyContext) Done() <-chan struct{} { return nil }

func (valueOnlyContext) Err() error { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// when ctx is. Cleanup against the browser must outlive the request that
// triggered it, and the context carries the CDP connection info.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
