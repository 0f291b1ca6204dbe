// File: internal/executor/validate.go
package executor

import (
	"net/url"
	"time"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
)

// ValidateRequest rejects malformed tasks before any pool capacity is
// consumed. It also normalizes defaults in place (wait condition, quality).
func ValidateRequest(req *schemas.TaskRequest, cfg config.TaskConfig) error {
	if !req.Operation.IsKnown() {
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "unknown operation %q", req.Operation)
	}
	if req.DeadlineMs < 0 {
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "deadline_ms must not be negative")
	}

	if req.Operation == schemas.OpScript {
		if len(req.Params.Steps) == 0 {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "script operation requires at least one step")
		}
		for i, step := range req.Params.Steps {
			if err := validateStep(i, step); err != nil {
				return err
			}
		}
		return nil
	}

	if err := validateURL(req.URL); err != nil {
		return err
	}

	switch req.Params.WaitUntil {
	case "":
		req.Params.WaitUntil = schemas.WaitLoad
	case schemas.WaitDOMReady, schemas.WaitLoad, schemas.WaitIdle:
	default:
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "unknown wait_until %q", req.Params.WaitUntil)
	}
	if req.Params.QuietMs < 0 {
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "quiet_ms must not be negative")
	}

	switch req.Operation {
	case schemas.OpScreenshot:
		switch req.Params.Format {
		case "", "png", "jpeg":
		default:
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "unsupported screenshot format %q", req.Params.Format)
		}
		if req.Params.Quality < 0 || req.Params.Quality > 100 {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "quality must be between 0 and 100")
		}
	case schemas.OpRender:
		if req.Params.Scale != 0 && (req.Params.Scale < 0.1 || req.Params.Scale > 2.0) {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "scale must be between 0.1 and 2.0")
		}
		if req.Params.PaperWidth < 0 || req.Params.PaperHeight < 0 {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "paper dimensions must not be negative")
		}
	}
	return nil
}

func validateStep(i int, step schemas.ScriptStep) error {
	switch step.Type {
	case schemas.StepNavigate:
		if err := validateURL(step.URL); err != nil {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d: invalid url", i)
		}
	case schemas.StepClick, schemas.StepHover, schemas.StepWaitVisible:
		if step.Selector == "" {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d (%s): selector is required", i, step.Type)
		}
	case schemas.StepFill:
		if step.Selector == "" {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d (%s): selector is required", i, step.Type)
		}
	case schemas.StepKeyDown, schemas.StepKeyUp:
		if step.Key == "" {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d (%s): key is required", i, step.Type)
		}
	case schemas.StepScroll:
	case schemas.StepSleep:
		if step.Amount < 0 {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d: sleep amount must not be negative", i)
		}
	case schemas.StepSetViewport:
		if step.Width <= 0 || step.Height <= 0 {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d: viewport dimensions must be positive", i)
		}
	case schemas.StepScreenshot:
	case schemas.StepAssert:
		if step.URLContains == "" && step.TitleContains == "" {
			return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d: assert needs url_contains or title_contains", i)
		}
	default:
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "step %d: unknown step type %q", i, step.Type)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return schemas.NewTaskError(schemas.ErrBadRequest, err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return schemas.NewTaskError(schemas.ErrBadRequest, nil, "url %q has no host", raw)
	}
	return nil
}

// deadlineFor clamps the requested deadline into the configured bounds.
func deadlineFor(req *schemas.TaskRequest, cfg config.TaskConfig) time.Duration {
	if req.DeadlineMs <= 0 {
		return cfg.DefaultDeadline
	}
	d := time.Duration(req.DeadlineMs) * time.Millisecond
	if d > cfg.MaxDeadline {
		return cfg.MaxDeadline
	}
	return d
}
