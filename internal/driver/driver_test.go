// File: internal/driver/driver_test.go
package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/browserd/api/schemas"
)

func TestProcessStateTransitions(t *testing.T) {
	p := newProcess("test")
	require.Equal(t, schemas.ProcessStarting, p.State())

	assert.True(t, p.markReady())
	assert.Equal(t, schemas.ProcessReady, p.State())

	// ready -> ready is not a transition.
	assert.False(t, p.markReady())

	assert.True(t, p.MarkCrashed())
	assert.Equal(t, schemas.ProcessCrashed, p.State())

	// Crashed is sticky against everything except termination.
	assert.False(t, p.MarkCrashed())
	assert.False(t, p.markReady())
	assert.True(t, p.markTerminated())
	assert.Equal(t, schemas.ProcessTerminated, p.State())

	// Terminated is final.
	assert.False(t, p.MarkCrashed())
	assert.False(t, p.markTerminated())
}

func TestProcessTerminateFromStarting(t *testing.T) {
	p := newProcess("test")
	assert.True(t, p.markTerminated())
	assert.True(t, p.State().Terminal())
}

func TestCombineContextCancelsWithSecondary(t *testing.T) {
	primary := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(primary, secondary)
	defer cancel()

	require.NoError(t, combined.Err())
	cancelSecondary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe secondary cancellation")
	}
}

func TestCombineContextInheritsPrimaryValues(t *testing.T) {
	type key struct{}
	primary := context.WithValue(context.Background(), key{}, "cdp-target")
	secondary := context.Background()

	combined, cancel := CombineContext(primary, secondary)
	defer cancel()

	assert.Equal(t, "cdp-target", combined.Value(key{}))
}

func TestDetachIgnoresParentCancellation(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))

	detached := Detach(parent)
	cancel()

	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	assert.Equal(t, "v", detached.Value(key{}))
}

func TestSessionMarkClosedOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{id: "s", ctx: ctx, cancel: cancel}

	assert.True(t, s.markClosed())
	assert.False(t, s.markClosed())
}
