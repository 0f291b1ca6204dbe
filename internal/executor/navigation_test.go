// File: internal/executor/navigation_test.go
package executor

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/browserd/api/schemas"
)

func TestNavWatcherTracksDocumentStatus(t *testing.T) {
	w := newNavWatcher()
	w.setMainFrame("frame-main")

	// Sub-resources never contribute a status.
	w.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		FrameID:  "frame-main",
		Response: &network.Response{Status: 404, URL: "https://example.com/x.png"},
	})
	assert.Equal(t, 0, w.httpStatus())

	// Redirect hop, then the terminal document response.
	w.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "frame-main",
		Response: &network.Response{Status: 302, URL: "https://example.com/old"},
	})
	w.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "frame-main",
		Response: &network.Response{Status: 200, URL: "https://example.com/new"},
	})
	assert.Equal(t, 200, w.httpStatus())
}

func TestNavWatcherIgnoresSubframeDocuments(t *testing.T) {
	w := newNavWatcher()
	w.setMainFrame("frame-main")

	// An erroring page that embeds a healthy iframe must still report the
	// main document's status, not the iframe's.
	w.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "frame-main",
		Response: &network.Response{Status: 500, URL: "https://example.com/"},
	})
	w.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "frame-ad",
		Response: &network.Response{Status: 200, URL: "https://ads.example/slot"},
	})
	assert.Equal(t, 500, w.httpStatus())
}

func TestNavWatcherStatusBeforeFrameKnown(t *testing.T) {
	w := newNavWatcher()

	// The document response can race the navigate reply that names the main
	// frame; the status must survive the ordering.
	w.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "frame-main",
		Response: &network.Response{Status: 404, URL: "https://example.com/missing"},
	})
	assert.Equal(t, 0, w.httpStatus())
	w.setMainFrame("frame-main")
	assert.Equal(t, 404, w.httpStatus())
}

func TestNavWatcherQuiet(t *testing.T) {
	w := newNavWatcher()

	w.listen(&network.EventRequestWillBeSent{RequestID: "r1"})
	assert.False(t, w.quiet(0), "request in flight is not quiet")

	w.listen(&network.EventLoadingFinished{RequestID: "r1"})
	assert.True(t, w.quiet(0))
	assert.False(t, w.quiet(time.Minute), "quiet period has not elapsed yet")

	// A failed request also leaves the in-flight set.
	w.listen(&network.EventRequestWillBeSent{RequestID: "r2"})
	w.listen(&network.EventLoadingFailed{RequestID: "r2"})
	assert.True(t, w.quiet(0))
}

func TestNavWatcherAwaitReady(t *testing.T) {
	w := newNavWatcher()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- w.awaitReady(ctx, schemas.WaitDOMReady, 0)
	}()

	w.listen(&page.EventDomContentEventFired{})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitReady did not return after DOMContentLoaded")
	}
}

func TestNavWatcherAwaitReadyTimesOut(t *testing.T) {
	w := newNavWatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.awaitReady(ctx, schemas.WaitLoad, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNavWatcherIdleWaitsForQuietWindow(t *testing.T) {
	w := newNavWatcher()
	w.listen(&page.EventLoadEventFired{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, w.awaitReady(ctx, schemas.WaitIdle, 150*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestNavWatcherDuplicateLifecycleEvents(t *testing.T) {
	w := newNavWatcher()
	// A second load event (e.g. after an in-page navigation) must not panic.
	w.listen(&page.EventLoadEventFired{})
	w.listen(&page.EventLoadEventFired{})
	w.listen(&page.EventDomContentEventFired{})
	w.listen(&page.EventDomContentEventFired{})
}
