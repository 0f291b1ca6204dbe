// File: internal/report/reporter.go

// Package report forwards script task outcomes to an external collector.
// Reporting is best effort: a collector outage never fails the task that
// produced the result.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Submission is the payload posted to the collector.
type Submission struct {
	TaskID            string           `json:"task_id"`
	Status            string           `json:"status"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	FailedStep        int              `json:"failed_step,omitempty"`
	FailedStepType    schemas.StepType `json:"failed_step_type,omitempty"`
	ScreenshotB64     string           `json:"screenshot_b64,omitempty"`
	ScreenshotMissing bool             `json:"screenshot_missing"`
	StepsExecuted     int              `json:"steps_executed"`
	RunTime           time.Time        `json:"run_time"`
	DurationMs        int64            `json:"duration_ms"`
}

// Reporter posts script results to the configured endpoint, authenticating
// with a short-lived token when an auth URL is configured.
type Reporter struct {
	cfg    config.ReportConfig
	client *http.Client
	logger *zap.Logger
}

// New builds a Reporter. When reporting is disabled Submit is a no-op.
func New(cfg config.ReportConfig, logger *zap.Logger) *Reporter {
	return &Reporter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("report"),
	}
}

// Enabled reports whether submissions will actually be sent.
func (r *Reporter) Enabled() bool { return r.cfg.Enabled }

// Submit forwards one script outcome. Failures are logged, never returned to
// the task path; the error return exists for tests and callers that care.
func (r *Reporter) Submit(ctx context.Context, result *schemas.TaskResult) error {
	if !r.cfg.Enabled || result == nil || result.Script == nil {
		return nil
	}
	sub := Submission{
		TaskID:            result.TaskID,
		Status:            result.Script.Status,
		ErrorMessage:      result.Script.ErrorMessage,
		FailedStep:        result.Script.FailedStep,
		FailedStepType:    result.Script.FailedStepType,
		ScreenshotB64:     result.Script.ScreenshotB64,
		ScreenshotMissing: result.Script.ScreenshotMissing,
		StepsExecuted:     result.Script.StepsExecuted,
		RunTime:           result.Script.RunTime,
		DurationMs:        result.DurationMs,
	}
	if err := r.send(ctx, sub); err != nil {
		r.logger.Warn("Failed to forward script result.",
			zap.String("task_id", sub.TaskID), zap.Error(err))
		return err
	}
	r.logger.Debug("Script result forwarded.", zap.String("task_id", sub.TaskID))
	return nil
}

func (r *Reporter) send(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if r.cfg.AuthURL != "" {
		token, err := r.fetchToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "AR-JWT "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector answered %d", resp.StatusCode)
	}
	return nil
}

// fetchToken trades credentials for a short-lived token via a form-encoded
// login request.
func (r *Reporter) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{
		"username": {r.cfg.Username},
		"password": {r.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.AuthURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth endpoint answered %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("auth response carried no token")
	}
	return payload.Token, nil
}
