package domain

import "time"

// RunStatus is the state of an ingestion run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Counts aggregates per-record outcomes of a sync.
type Counts struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Add returns the sum of two tallies.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Processed:  c.Processed + o.Processed,
		Created:    c.Created + o.Created,
		Updated:    c.Updated + o.Updated,
		Duplicates: c.Duplicates + o.Duplicates,
		Failed:     c.Failed + o.Failed,
		Skipped:    c.Skipped + o.Skipped,
	}
}

// Run is one audit record per orchestrated sync attempt.
type Run struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Counts       Counts     `json:"counts"`
	Error        string     `json:"error,omitempty"`
}
