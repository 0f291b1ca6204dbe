package schemas

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{ErrBadRequest, http.StatusBadRequest},
		{ErrNavigation, http.StatusUnprocessableEntity},
		{ErrExtraction, http.StatusUnprocessableEntity},
		{ErrTimeout, http.StatusGatewayTimeout},
		{ErrCanceled, StatusClientClosedRequest},
		{ErrServiceBusy, http.StatusServiceUnavailable},
		{ErrLaunch, http.StatusServiceUnavailable},
		{ErrSessionFailed, http.StatusBadGateway},
		{ErrBrowserCrashed, http.StatusBadGateway},
		{ErrInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			err := NewTaskError(tc.kind, nil, "x")
			assert.Equal(t, tc.want, err.HTTPStatus())
		})
	}
}

func TestTaskErrorRetryable(t *testing.T) {
	assert.True(t, NewTaskError(ErrServiceBusy, nil, "x").Retryable())
	assert.True(t, NewTaskError(ErrLaunch, nil, "x").Retryable())
	assert.True(t, NewTaskError(ErrBrowserCrashed, nil, "x").Retryable())
	assert.False(t, NewTaskError(ErrTimeout, nil, "x").Retryable())
	assert.False(t, NewTaskError(ErrBadRequest, nil, "x").Retryable())
	assert.False(t, NewTaskError(ErrNavigation, nil, "x").Retryable())
	assert.False(t, NewTaskError(ErrCanceled, nil, "x").Retryable())
}

func TestTaskErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewTaskError(ErrNavigation, cause, "navigation broke")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "navigation_error")
	assert.Contains(t, err.Error(), "root cause")
}

func TestKindOfUnwrapsChains(t *testing.T) {
	inner := NewTaskError(ErrTimeout, nil, "too slow")
	wrapped := fmt.Errorf("while executing: %w", inner)

	assert.Equal(t, ErrTimeout, KindOf(wrapped))
	assert.Equal(t, ErrInternal, KindOf(errors.New("mystery")))
}

func TestAsTaskErrorFallback(t *testing.T) {
	plain := errors.New("plain")
	te := AsTaskError(plain)
	require.NotNil(t, te)
	assert.Equal(t, ErrInternal, te.Kind)
	assert.ErrorIs(t, te, plain)

	original := NewTaskError(ErrBadRequest, nil, "bad")
	assert.Same(t, original, AsTaskError(original))
}

func TestTaskErrorBody(t *testing.T) {
	err := NewTaskError(ErrNavigation, nil, "page answered 503").WithStatus(503)
	body := err.Body()
	assert.Equal(t, ErrNavigation, body.Kind)
	assert.Equal(t, 503, body.Status)
	assert.False(t, body.Retryable)
}

func TestProcessStateTerminal(t *testing.T) {
	assert.False(t, ProcessStarting.Terminal())
	assert.False(t, ProcessReady.Terminal())
	assert.True(t, ProcessCrashed.Terminal())
	assert.True(t, ProcessTerminated.Terminal())
}

func TestOperationIsKnown(t *testing.T) {
	for _, op := range KnownOperations {
		assert.True(t, op.IsKnown())
	}
	assert.False(t, Operation("teleport").IsKnown())
}
