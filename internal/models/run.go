package models

import "time"

// RunKind identifies which supervisor phase produced a run record
type RunKind string

const (
	RunKindStartup RunKind = "startup"
	RunKindCheck   RunKind = "check"
)

// RunRecord captures one supervisor cycle for the run-history store
type RunRecord struct {
	ID           string    `json:"id"`
	Kind         RunKind   `json:"kind" badgerhold:"index"`
	StartedAt    time.Time `json:"started_at" badgerhold:"index"`
	FinishedAt   time.Time `json:"finished_at"`
	Detection    Signal    `json:"detection,omitempty"`     // Empty for startup runs
	Attempts     int       `json:"attempts,omitempty"`      // Detector spawns used
	Refreshed    bool      `json:"refreshed"`               // A refresh was attempted
	RefreshOK    bool      `json:"refresh_ok"`              // The refresh eventually exited 0
	APIRestarted bool      `json:"api_restarted"`           // The API child was respawned this cycle
	APIAdopted   bool      `json:"api_adopted,omitempty"`   // Startup found an API already listening
	Error        string    `json:"error,omitempty"`
}

// Duration returns how long the cycle took
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
