// File: internal/driver/driver.go
package driver

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
)

const (
	sessionSetupTimeout = 15 * time.Second
	closeTimeout        = 15 * time.Second
)

// Driver launches browser processes and carves isolated sessions out of them.
// It is the only package that talks to chromedp for lifecycle concerns;
// everything above it works with the schemas interfaces.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// New builds a Driver. The returned value is safe for concurrent use.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		logger: logger.Named("driver"),
	}
}

// Launch starts one headless browser process and verifies it is responsive
// before handing it out. The process lifetime is independent of ctx; ctx only
// bounds the launch itself (together with browser.launch_timeout).
func (d *Driver) Launch(ctx context.Context) (schemas.BrowserProcess, error) {
	p := newProcess(uuid.New().String())
	logger := d.logger.With(zap.String("process_id", p.id))
	logger.Info("Launching browser process...")

	opts := d.buildAllocatorOptions()

	// The allocator hangs off Background so the process outlives the request
	// that triggered the launch.
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	p.browserCtx, p.browserCancel = chromedp.NewContext(p.allocCtx,
		chromedp.WithLogf(zap.NewStdLog(logger).Printf))

	verifyCtx, cancelVerify := context.WithTimeout(ctx, d.cfg.LaunchTimeout)
	defer cancelVerify()
	runCtx, cancelRun := CombineContext(p.browserCtx, verifyCtx)
	defer cancelRun()

	// The first Run starts the OS process; navigating the controller tab to
	// about:blank confirms the CDP connection is live.
	if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
		d.Terminate(p)
		return nil, schemas.NewTaskError(schemas.ErrLaunch, err, "browser failed to start or respond")
	}

	if !p.markReady() {
		d.Terminate(p)
		return nil, schemas.NewTaskError(schemas.ErrLaunch, nil, "process %s left starting state during launch", p.id)
	}
	logger.Info("Browser process launched and responsive.")
	return p, nil
}

// NewSession creates an isolated browsing context plus a fresh tab on proc and
// returns a session bound to that tab.
func (d *Driver) NewSession(ctx context.Context, proc schemas.BrowserProcess) (schemas.BrowserSession, error) {
	p, ok := proc.(*Process)
	if !ok {
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, nil, "unexpected process implementation %T", proc)
	}
	if state := p.State(); state != schemas.ProcessReady {
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, nil, "process %s is %s, not ready", p.id, state)
	}

	id := uuid.New().String()
	logger := d.logger.With(zap.String("process_id", p.id), zap.String("session_id", id))

	p.contextCreationLock.Lock()
	defer p.contextCreationLock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, err, "canceled before creating browser context")
	}

	setupCtx, cancelSetup := context.WithTimeout(p.browserCtx, sessionSetupTimeout)
	defer cancelSetup()

	browserContextID, err := target.CreateBrowserContext().Do(setupCtx)
	if err != nil {
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, err, "failed to create browser context")
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(setupCtx)
	if err != nil {
		d.disposeBrowserContext(p, browserContextID)
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, err, "failed to create target")
	}

	sessionCtx, cancelSession := chromedp.NewContext(p.browserCtx, chromedp.WithTargetID(targetID))

	sess := &Session{
		id:               id,
		processID:        p.id,
		proc:             p,
		browserContextID: browserContextID,
		ctx:              sessionCtx,
		cancel:           cancelSession,
		createdAt:        time.Now(),
	}

	// Attach to the new target now so a broken session fails here rather
	// than on the first task.
	attachCtx, cancelAttach := CombineContext(sessionCtx, setupCtx)
	defer cancelAttach()
	if err := chromedp.Run(attachCtx); err != nil {
		cancelSession()
		d.disposeBrowserContext(p, browserContextID)
		return nil, schemas.NewTaskError(schemas.ErrSessionFailed, err, "failed to attach to target")
	}

	logger.Debug("Session created.")
	return sess, nil
}

// CloseSession tears the session down: the tab context is canceled and the
// browsing context disposed so cookies and storage are gone. Safe to call
// more than once and on sessions whose process already died.
func (d *Driver) CloseSession(ctx context.Context, sess schemas.BrowserSession) {
	s, ok := sess.(*Session)
	if !ok || !s.markClosed() {
		return
	}
	s.Invalidate()

	if s.proc.State() != schemas.ProcessReady {
		// Process is gone; the OS already reclaimed the browsing context.
		return
	}
	d.disposeBrowserContext(s.proc, s.browserContextID)
	d.logger.Debug("Session closed.",
		zap.String("process_id", s.processID), zap.String("session_id", s.id))
}

// Probe verifies the process answers a browser-scoped CDP command. The caller
// bounds ctx; a dead or wedged process returns an error.
func (d *Driver) Probe(ctx context.Context, proc schemas.BrowserProcess) error {
	p, ok := proc.(*Process)
	if !ok {
		return schemas.NewTaskError(schemas.ErrBrowserCrashed, nil, "unexpected process implementation %T", proc)
	}
	probeCtx, cancel := CombineContext(p.browserCtx, ctx)
	defer cancel()

	err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := target.GetTargets().Do(c)
		return err
	}))
	if err != nil {
		return schemas.NewTaskError(schemas.ErrBrowserCrashed, err, "process %s failed health probe", p.id)
	}
	return nil
}

// Terminate shuts the browser process down. Idempotent.
func (d *Driver) Terminate(proc schemas.BrowserProcess) {
	p, ok := proc.(*Process)
	if !ok {
		return
	}
	if !p.markTerminated() {
		return
	}
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	d.logger.Info("Browser process terminated.", zap.String("process_id", p.id))
}

// disposeBrowserContext is best-effort cleanup against a live process.
func (d *Driver) disposeBrowserContext(p *Process, id cdp.BrowserContextID) {
	disposeCtx, cancel := context.WithTimeout(Detach(p.browserCtx), closeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(disposeCtx); err != nil {
		d.logger.Warn("Failed to dispose browser context.",
			zap.String("process_id", p.id), zap.Error(err))
	}
}

// buildAllocatorOptions assembles the launch flags for a headless instance.
func (d *Driver) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", d.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", d.cfg.Headless),
	)
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}

	// Custom arguments from configuration, "--name=value" or "--name".
	for _, arg := range d.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g. Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}
