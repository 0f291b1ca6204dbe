// File: internal/executor/executor.go

// Package executor runs a single task against an acquired browser session.
// It owns deadline clamping, readiness waits and the mapping of raw driver
// failures onto the stable error taxonomy.
package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/internal/driver"
)

// Executor executes tasks. Stateless; one instance serves all requests.
type Executor struct {
	cfg    config.TaskConfig
	logger *zap.Logger
}

// New builds an Executor.
func New(cfg config.TaskConfig, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		logger: logger.Named("executor"),
	}
}

// Execute runs req on sess and returns its result. The request is assumed to
// have passed ValidateRequest. Failures come back as *schemas.TaskError.
func (e *Executor) Execute(ctx context.Context, sess schemas.BrowserSession, req *schemas.TaskRequest) (*schemas.TaskResult, error) {
	start := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, deadlineFor(req, e.cfg))
	defer cancel()
	// The combined context carries the CDP target of the session and the
	// task deadline; a crash or a timeout both abort the driver calls.
	runCtx, cancelRun := driver.CombineContext(sess.Context(), taskCtx)
	defer cancelRun()

	result := &schemas.TaskResult{
		TaskID:    uuid.New().String(),
		Operation: req.Operation,
	}
	logger := e.logger.With(
		zap.String("task_id", result.TaskID),
		zap.String("session_id", sess.ID()),
		zap.String("operation", string(req.Operation)),
	)
	logger.Info("Executing task.", zap.String("url", req.URL))

	var err error
	if req.Operation == schemas.OpScript {
		err = e.runScript(runCtx, req, result)
	} else {
		err = e.runPageOp(runCtx, req, result)
	}
	if err != nil {
		taskErr := e.classify(taskCtx, sess, req.Operation, err)
		logger.Warn("Task failed.", zap.Error(taskErr))
		return nil, taskErr
	}

	result.DurationMs = time.Since(start).Milliseconds()
	logger.Info("Task complete.", zap.Int64("duration_ms", result.DurationMs))
	return result, nil
}

// runPageOp handles the navigate/screenshot/render/extract family: one
// navigation followed by an operation-specific capture.
func (e *Executor) runPageOp(ctx context.Context, req *schemas.TaskRequest, result *schemas.TaskResult) error {
	watcher := newNavWatcher()
	chromedp.ListenTarget(ctx, watcher.listen)
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		return err
	}

	quiet := quietPeriod(req.Params.QuietMs, e.cfg.DefaultQuietPeriod)
	if err := watcher.navigate(ctx, req.URL, req.Params.WaitUntil, quiet); err != nil {
		return err
	}

	result.HTTPStatus = watcher.httpStatus()
	if err := chromedp.Run(ctx,
		chromedp.Location(&result.FinalURL),
		chromedp.Title(&result.Title),
	); err != nil {
		return err
	}
	if req.Params.Strict && result.HTTPStatus >= 400 {
		return schemas.NewTaskError(schemas.ErrNavigation, nil,
			"page answered %d and strict mode is on", result.HTTPStatus).
			WithStatus(result.HTTPStatus)
	}

	switch req.Operation {
	case schemas.OpNavigate:
		return nil
	case schemas.OpScreenshot:
		buf, err := captureScreenshot(ctx, &req.Params)
		if err != nil {
			return err
		}
		result.ImageB64 = base64.StdEncoding.EncodeToString(buf)
		return nil
	case schemas.OpRender:
		buf, err := renderPDF(ctx, &req.Params)
		if err != nil {
			return err
		}
		result.PDFB64 = base64.StdEncoding.EncodeToString(buf)
		return nil
	case schemas.OpExtract:
		var html string
		if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
			return err
		}
		extraction, err := ExtractContent(html, result.FinalURL, &req.Params)
		if err != nil {
			return err
		}
		result.Extraction = extraction
		return nil
	default:
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "unknown operation %q", req.Operation)
	}
}

// captureScreenshot grabs the viewport, or the whole page when full_page is set.
func captureScreenshot(ctx context.Context, params *schemas.TaskParams) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		capture := page.CaptureScreenshot().
			WithCaptureBeyondViewport(params.FullPage)
		if params.Format == "jpeg" {
			quality := int64(params.Quality)
			if quality == 0 {
				quality = 90
			}
			capture = capture.
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(quality)
		}
		var err error
		buf, err = capture.Do(c)
		return err
	}))
	return buf, err
}

// renderPDF prints the current page to PDF.
func renderPDF(ctx context.Context, params *schemas.TaskParams) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		pdf := page.PrintToPDF().
			WithLandscape(params.Landscape).
			WithPrintBackground(params.PrintBackground)
		if params.Scale > 0 {
			pdf = pdf.WithScale(params.Scale)
		}
		if params.PaperWidth > 0 {
			pdf = pdf.WithPaperWidth(params.PaperWidth)
		}
		if params.PaperHeight > 0 {
			pdf = pdf.WithPaperHeight(params.PaperHeight)
		}
		var err error
		buf, _, err = pdf.Do(c)
		return err
	}))
	return buf, err
}

// classify maps a raw failure onto the error taxonomy. Order matters: an
// already-classified error wins, then deadline, then a dead session, then a
// client cancellation, then navigation-level failures.
func (e *Executor) classify(taskCtx context.Context, sess schemas.BrowserSession, op schemas.Operation, err error) error {
	var taskErr *schemas.TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		return schemas.NewTaskError(schemas.ErrTimeout, err, "deadline exceeded during %s", op)
	}
	if sess.Context().Err() != nil {
		return schemas.NewTaskError(schemas.ErrBrowserCrashed, err, "browser session died during %s", op)
	}
	// The session is alive and no deadline fired, so a cancellation came from
	// the request side: the client hung up. Not an internal fault.
	if errors.Is(err, context.Canceled) || errors.Is(taskCtx.Err(), context.Canceled) {
		return schemas.NewTaskError(schemas.ErrCanceled, err, "request canceled during %s", op)
	}
	if isNavigationError(err) {
		return schemas.NewTaskError(schemas.ErrNavigation, err, "navigation failed")
	}
	return schemas.NewTaskError(schemas.ErrInternal, err, "%s operation failed", op)
}

// isNavigationError recognizes network-stack failures surfaced by the
// browser (DNS, TLS, refused connections).
func isNavigationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "net::ERR") || strings.Contains(msg, "page load error")
}

// quietPeriod picks the idle quiet window: request override or configured default.
func quietPeriod(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
