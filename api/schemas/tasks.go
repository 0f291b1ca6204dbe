package schemas

import "time"

// -- Task Schemas --

// Operation identifies the kind of work a task performs against a browser session.
type Operation string

const (
	OpNavigate   Operation = "navigate"
	OpScreenshot Operation = "screenshot"
	OpRender     Operation = "render"
	OpExtract    Operation = "extract"
	OpScript     Operation = "script"
)

// KnownOperations lists every operation the executor supports.
var KnownOperations = []Operation{OpNavigate, OpScreenshot, OpRender, OpExtract, OpScript}

// IsKnown reports whether the operation is part of the supported set.
func (op Operation) IsKnown() bool {
	for _, known := range KnownOperations {
		if op == known {
			return true
		}
	}
	return false
}

// WaitCondition controls how long navigation blocks before the page is
// considered ready.
type WaitCondition string

const (
	// WaitDOMReady returns once the DOM is parsed (readyState interactive).
	WaitDOMReady WaitCondition = "domready"
	// WaitLoad returns once the load event has fired. This is the default.
	WaitLoad WaitCondition = "load"
	// WaitIdle waits for load and then an additional quiet period.
	WaitIdle WaitCondition = "idle"
)

// TaskRequest is the body of POST /tasks: one request, one task.
type TaskRequest struct {
	Operation  Operation  `json:"operation"`
	URL        string     `json:"url"`
	Params     TaskParams `json:"params"`
	DeadlineMs int        `json:"deadline_ms"`
}

// TaskParams carries the union of per-operation parameters. Fields outside
// the requested operation's schema are ignored.
type TaskParams struct {
	// Navigation (all operations navigate first).
	WaitUntil WaitCondition `json:"wait_until,omitempty"`
	QuietMs   int           `json:"quiet_ms,omitempty"`
	// Strict turns a non-2xx terminal status into a navigation error.
	Strict bool `json:"strict,omitempty"`

	// Screenshot.
	FullPage bool   `json:"full_page,omitempty"`
	Format   string `json:"format,omitempty"` // "png" (default) or "jpeg"
	Quality  int    `json:"quality,omitempty"`

	// Render (PDF).
	Landscape       bool    `json:"landscape,omitempty"`
	PrintBackground bool    `json:"print_background,omitempty"`
	Scale           float64 `json:"scale,omitempty"`
	PaperWidth      float64 `json:"paper_width,omitempty"`
	PaperHeight     float64 `json:"paper_height,omitempty"`

	// Extract.
	Selector  string `json:"selector,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	TextOnly  bool   `json:"text_only,omitempty"`
	Links     bool   `json:"links,omitempty"`

	// Script.
	Steps []ScriptStep `json:"steps,omitempty"`
}

// -- Script Step Definitions --

// StepType identifies a single recorded action inside a script task.
type StepType string

const (
	StepNavigate    StepType = "navigate"
	StepClick       StepType = "click"
	StepFill        StepType = "fill"
	StepHover       StepType = "hover"
	StepWaitVisible StepType = "wait_visible"
	StepKeyDown     StepType = "key_down"
	StepKeyUp       StepType = "key_up"
	StepScroll      StepType = "scroll"
	StepSleep       StepType = "sleep"
	StepSetViewport StepType = "set_viewport"
	StepScreenshot  StepType = "screenshot"
	StepAssert      StepType = "assert"
)

// ScriptStep is one action of a recorded sequence. Which fields are
// meaningful depends on Type.
type ScriptStep struct {
	Type     StepType `json:"type"`
	URL      string   `json:"url,omitempty"`
	Selector string   `json:"selector,omitempty"`
	Value    string   `json:"value,omitempty"`
	Key      string   `json:"key,omitempty"`
	// Scroll distance in pixels (StepScroll) or pause in ms (StepSleep).
	Amount int `json:"amount,omitempty"`
	// Viewport dimensions (StepSetViewport).
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Assertions (StepAssert). Empty strings are not checked.
	URLContains   string `json:"url_contains,omitempty"`
	TitleContains string `json:"title_contains,omitempty"`
}

// -- Result Schemas --

// TaskResult is the successful payload of POST /tasks. Only the fields
// relevant to the executed operation are populated.
type TaskResult struct {
	TaskID    string    `json:"task_id"`
	Operation Operation `json:"operation"`

	// Navigation outcome, present for every operation.
	FinalURL   string `json:"final_url,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Title      string `json:"title,omitempty"`

	// Screenshot / render payloads, base64 encoded.
	ImageB64 string `json:"image_b64,omitempty"`
	PDFB64   string `json:"pdf_b64,omitempty"`

	// Extraction payload.
	Extraction *Extraction `json:"extraction,omitempty"`

	// Script payload.
	Script *ScriptResult `json:"script,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

// Extraction holds the structured output of an extract operation.
type Extraction struct {
	Title string `json:"title,omitempty"`
	// Text is the full-document text when no selector is given.
	Text string `json:"text,omitempty"`
	// Matches are the nodes matched by the selector, in document order.
	Matches []ExtractedNode `json:"matches,omitempty"`
	Links   []string        `json:"links,omitempty"`
}

// ExtractedNode is one selector match.
type ExtractedNode struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
	Attr string `json:"attr,omitempty"`
}

// ScriptResult mirrors the recorded-test report shape: overall status, the
// failing step (if any) and a failure screenshot when one could be taken.
type ScriptResult struct {
	Status            string    `json:"status"` // "passed" or "failed"
	ErrorMessage      string    `json:"error_message,omitempty"`
	FailedStep        int       `json:"failed_step,omitempty"` // 1-based
	FailedStepType    StepType  `json:"failed_step_type,omitempty"`
	ScreenshotB64     string    `json:"screenshot_b64,omitempty"`
	ScreenshotMissing bool      `json:"screenshot_missing"`
	StepsExecuted     int       `json:"steps_executed"`
	RunTime           time.Time `json:"run_time"`
}

// Passed reports whether the script completed without a failing step.
func (r *ScriptResult) Passed() bool {
	return r != nil && r.Status == "passed"
}
