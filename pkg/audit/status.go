package audit

import (
	"fmt"
	"time"
)

// Phase is the coarse lifecycle state of a job.
type Phase string

const (
	PhaseIdle    Phase = "Idle"
	PhaseRunning Phase = "Running"
	PhaseDone    Phase = "Done"
	PhaseFailed  Phase = "Failed"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Status is a point-in-time snapshot of a job.
type Status struct {
	Phase        Phase      `json:"phase"`
	Running      bool       `json:"running"`
	NodesVisited int64      `json:"nodes_visited"`
	LeavesSeen   int64      `json:"leaves_seen"`
	LeavesFixed  int64      `json:"leaves_fixed"`
	LastError    string     `json:"last_error,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	Root         string     `json:"root,omitempty"`
	Repair       bool       `json:"repair"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// PhaseText renders the phase, with the failure message for failed runs.
func (s Status) PhaseText() string {
	if s.Phase == PhaseFailed {
		return "Failed : " + s.LastError
	}
	return string(s.Phase)
}

// String renders the status line reported by Job.Status.
//
//	Done: [ false; nodesSeen = 12; assetsSeen = 4; assetsFixed = 4 ]
func (s Status) String() string {
	return fmt.Sprintf("%s: [ %t; nodesSeen = %d; assetsSeen = %d; assetsFixed = %d ]",
		s.PhaseText(), s.Running, s.NodesVisited, s.LeavesSeen, s.LeavesFixed)
}
