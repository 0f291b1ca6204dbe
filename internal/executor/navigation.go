// File: internal/executor/navigation.go
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/browserd/api/schemas"
)

// idlePollInterval is how often the idle wait re-checks network quiescence.
const idlePollInterval = 100 * time.Millisecond

// navWatcher listens to page and network events for one navigation so the
// executor can honor the requested readiness condition and report the main
// document's terminal HTTP status.
type navWatcher struct {
	mu sync.Mutex
	// docStatus keys document responses by frame so an iframe's response
	// cannot masquerade as the main document's terminal status.
	docStatus    map[cdp.FrameID]int
	mainFrame    cdp.FrameID
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time

	domReadyOnce sync.Once
	domReady     chan struct{}
	loadedOnce   sync.Once
	loaded       chan struct{}
}

func newNavWatcher() *navWatcher {
	return &navWatcher{
		docStatus:    make(map[cdp.FrameID]int),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		domReady:     make(chan struct{}),
		loaded:       make(chan struct{}),
	}
}

// listen is registered via chromedp.ListenTarget before navigation starts.
func (w *navWatcher) listen(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.mu.Lock()
		w.inflight[e.RequestID] = struct{}{}
		w.lastActivity = time.Now()
		w.mu.Unlock()
	case *network.EventLoadingFinished:
		w.requestDone(e.RequestID)
	case *network.EventLoadingFailed:
		w.requestDone(e.RequestID)
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument {
			return
		}
		// Redirect hops within a frame each produce a response; the last
		// one wins. The event may arrive before the navigate reply names
		// the main frame, so every frame's status is kept.
		w.mu.Lock()
		w.docStatus[e.FrameID] = int(e.Response.Status)
		w.mu.Unlock()
	case *page.EventDomContentEventFired:
		w.domReadyOnce.Do(func() { close(w.domReady) })
	case *page.EventLoadEventFired:
		w.loadedOnce.Do(func() { close(w.loaded) })
	}
}

func (w *navWatcher) requestDone(id network.RequestID) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// setMainFrame records the frame the navigation landed in.
func (w *navWatcher) setMainFrame(id cdp.FrameID) {
	w.mu.Lock()
	w.mainFrame = id
	w.mu.Unlock()
}

// httpStatus returns the terminal status of the main document, or zero when
// no document response was observed for the navigated frame.
func (w *navWatcher) httpStatus() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.docStatus[w.mainFrame]
}

// quiet reports whether no request has been in flight for at least d.
func (w *navWatcher) quiet(d time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) == 0 && time.Since(w.lastActivity) >= d
}

// awaitReady blocks until the requested readiness condition holds or ctx is done.
func (w *navWatcher) awaitReady(ctx context.Context, cond schemas.WaitCondition, quietPeriod time.Duration) error {
	ready := w.loaded
	if cond == schemas.WaitDOMReady {
		ready = w.domReady
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if cond != schemas.WaitIdle {
		return nil
	}

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if w.quiet(quietPeriod) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// navigate drives the page to urlstr and waits for the readiness condition.
// The caller must already have registered the watcher via ListenTarget and
// enabled the network domain.
func (w *navWatcher) navigate(ctx context.Context, urlstr string, cond schemas.WaitCondition, quietPeriod time.Duration) error {
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		frameID, _, errorText, _, err := page.Navigate(urlstr).Do(c)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		w.setMainFrame(frameID)
		return nil
	}))
	if err != nil {
		return err
	}
	return w.awaitReady(ctx, cond, quietPeriod)
}
