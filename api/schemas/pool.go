package schemas

// -- Pool Introspection Schemas --

// ProcessState is the lifecycle phase of one browser process.
type ProcessState string

const (
	ProcessStarting   ProcessState = "starting"
	ProcessReady      ProcessState = "ready"
	ProcessCrashed    ProcessState = "crashed"
	ProcessTerminated ProcessState = "terminated"
)

// Terminal reports whether the state admits no further transitions.
func (s ProcessState) Terminal() bool {
	return s == ProcessCrashed || s == ProcessTerminated
}

// PoolStats is a point-in-time snapshot of pool occupancy, served by GET /health.
type PoolStats struct {
	ReadyProcesses  int `json:"ready_processes"`
	IdleSessions    int `json:"idle_sessions"`
	InUseSessions   int `json:"in_use_sessions"`
	HighWaterMark   int `json:"high_water_mark"`
	LaunchesFailed  int `json:"launches_failed"`
	SessionsExpired int `json:"sessions_expired"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status string `json:"status"`
	PoolStats
	InFlight int64 `json:"in_flight"`
}
