// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
)

type stubSession struct {
	ctx context.Context
}

func (s *stubSession) ID() string               { return "stub-session" }
func (s *stubSession) ProcessID() string        { return "stub-process" }
func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Invalidate()              {}
func (s *stubSession) CreatedAt() time.Time     { return time.Time{} }

func TestClassify(t *testing.T) {
	e := New(taskCfg(), zap.NewNop())
	liveCtx := context.Background()
	deadCtx, cancel := context.WithCancel(context.Background())
	cancel()

	expiredCtx, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()

	tests := []struct {
		name    string
		taskCtx context.Context
		sessCtx context.Context
		err     error
		want    schemas.ErrorKind
	}{
		{
			name:    "existing task error passes through",
			taskCtx: liveCtx,
			sessCtx: liveCtx,
			err:     schemas.NewTaskError(schemas.ErrNavigation, nil, "boom"),
			want:    schemas.ErrNavigation,
		},
		{
			name:    "deadline in error chain",
			taskCtx: liveCtx,
			sessCtx: liveCtx,
			err:     context.DeadlineExceeded,
			want:    schemas.ErrTimeout,
		},
		{
			name:    "deadline on task context",
			taskCtx: expiredCtx,
			sessCtx: liveCtx,
			err:     errors.New("operation aborted"),
			want:    schemas.ErrTimeout,
		},
		{
			name:    "dead session means crashed browser",
			taskCtx: liveCtx,
			sessCtx: deadCtx,
			err:     errors.New("websocket closed"),
			want:    schemas.ErrBrowserCrashed,
		},
		{
			name:    "cancellation in error chain is the client hanging up",
			taskCtx: liveCtx,
			sessCtx: liveCtx,
			err:     context.Canceled,
			want:    schemas.ErrCanceled,
		},
		{
			name:    "canceled task context with a healthy session",
			taskCtx: deadCtx,
			sessCtx: liveCtx,
			err:     errors.New("operation aborted"),
			want:    schemas.ErrCanceled,
		},
		{
			name:    "network stack failure",
			taskCtx: liveCtx,
			sessCtx: liveCtx,
			err:     errors.New("page load error net::ERR_NAME_NOT_RESOLVED"),
			want:    schemas.ErrNavigation,
		},
		{
			name:    "anything else is internal",
			taskCtx: liveCtx,
			sessCtx: liveCtx,
			err:     errors.New("unexpected"),
			want:    schemas.ErrInternal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := e.classify(tc.taskCtx, &stubSession{ctx: tc.sessCtx}, schemas.OpNavigate, tc.err)
			assert.Equal(t, tc.want, schemas.KindOf(got))
		})
	}
}

func TestQuietPeriod(t *testing.T) {
	assert.Equal(t, time.Second, quietPeriod(0, time.Second))
	assert.Equal(t, 250*time.Millisecond, quietPeriod(250, time.Second))
}

func TestIsNavigationError(t *testing.T) {
	assert.True(t, isNavigationError(errors.New("net::ERR_CONNECTION_REFUSED")))
	assert.True(t, isNavigationError(errors.New("page load error net::ERR_CERT_DATE_INVALID")))
	assert.False(t, isNavigationError(errors.New("something else")))
}
