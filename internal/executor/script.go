// File: internal/executor/script.go
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
)

const failureScreenshotTimeout = 5 * time.Second

// runScript replays a recorded step sequence. A failing step does not fail
// the task: the outcome (including a best-effort failure screenshot) is
// reported in the script result. Only deadline expiry and a dead session
// abort the task itself.
func (e *Executor) runScript(ctx context.Context, req *schemas.TaskRequest, result *schemas.TaskResult) error {
	watcher := newNavWatcher()
	chromedp.ListenTarget(ctx, watcher.listen)
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		return err
	}

	script := &schemas.ScriptResult{
		Status:  "passed",
		RunTime: time.Now().UTC(),
	}
	result.Script = script
	quiet := quietPeriod(req.Params.QuietMs, e.cfg.DefaultQuietPeriod)

	for i, step := range req.Params.Steps {
		if err := e.runStep(ctx, watcher, step, quiet, script); err != nil {
			if ctx.Err() != nil {
				// Deadline or session loss, not a script-level failure.
				return err
			}
			script.Status = "failed"
			script.ErrorMessage = err.Error()
			script.FailedStep = i + 1
			script.FailedStepType = step.Type
			e.captureFailureScreenshot(ctx, script)
			break
		}
		script.StepsExecuted = i + 1
	}

	result.HTTPStatus = watcher.httpStatus()
	return chromedp.Run(ctx,
		chromedp.Location(&result.FinalURL),
		chromedp.Title(&result.Title),
	)
}

func (e *Executor) runStep(ctx context.Context, watcher *navWatcher, step schemas.ScriptStep, quiet time.Duration, script *schemas.ScriptResult) error {
	switch step.Type {
	case schemas.StepNavigate:
		return watcher.navigate(ctx, step.URL, schemas.WaitLoad, quiet)
	case schemas.StepClick:
		return chromedp.Run(ctx, chromedp.Click(step.Selector, chromedp.NodeVisible))
	case schemas.StepFill:
		return chromedp.Run(ctx, chromedp.SetValue(step.Selector, step.Value))
	case schemas.StepHover:
		return chromedp.Run(ctx, hoverAction(step.Selector))
	case schemas.StepWaitVisible:
		return chromedp.Run(ctx, chromedp.WaitVisible(step.Selector))
	case schemas.StepKeyDown:
		return dispatchKey(ctx, input.KeyDown, step.Key)
	case schemas.StepKeyUp:
		return dispatchKey(ctx, input.KeyUp, step.Key)
	case schemas.StepScroll:
		return chromedp.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", step.Amount), nil))
	case schemas.StepSleep:
		return chromedp.Run(ctx, chromedp.Sleep(time.Duration(step.Amount)*time.Millisecond))
	case schemas.StepSetViewport:
		return chromedp.Run(ctx, chromedp.EmulateViewport(int64(step.Width), int64(step.Height)))
	case schemas.StepScreenshot:
		var buf []byte
		if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return err
		}
		script.ScreenshotB64 = base64.StdEncoding.EncodeToString(buf)
		return nil
	case schemas.StepAssert:
		return assertStep(ctx, step)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

// hoverAction fires mouse-over events on the first element matching selector.
func hoverAction(selector string) chromedp.Action {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { throw new Error("no element matches " + %q); }
		el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true}));
		el.dispatchEvent(new MouseEvent("mouseenter"));
	})()`, selector, selector)
	return chromedp.Evaluate(expr, nil)
}

func dispatchKey(ctx context.Context, eventType input.KeyType, key string) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchKeyEvent(eventType).WithKey(key).Do(c)
	}))
}

func assertStep(ctx context.Context, step schemas.ScriptStep) error {
	var location, title string
	if err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.Title(&title),
	); err != nil {
		return err
	}
	if step.URLContains != "" && !strings.Contains(location, step.URLContains) {
		return fmt.Errorf("assertion failed: url %q does not contain %q", location, step.URLContains)
	}
	if step.TitleContains != "" && !strings.Contains(title, step.TitleContains) {
		return fmt.Errorf("assertion failed: title %q does not contain %q", title, step.TitleContains)
	}
	return nil
}

// captureFailureScreenshot grabs the viewport after a failing step so the
// report shows what the page looked like. Best effort.
func (e *Executor) captureFailureScreenshot(ctx context.Context, script *schemas.ScriptResult) {
	shotCtx, cancel := context.WithTimeout(ctx, failureScreenshotTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		e.logger.Warn("Failed to capture failure screenshot.", zap.Error(err))
		script.ScreenshotMissing = true
		return
	}
	script.ScreenshotB64 = base64.StdEncoding.EncodeToString(buf)
}
