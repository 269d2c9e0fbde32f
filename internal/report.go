package internal

import (
	"fmt"
	"time"
)

// Report statuses.
const (
	ReportInProgress = "in_progress"
	ReportPaused     = "paused"
	ReportCompleted  = "completed"
)

// SessionEvent is one entry in a session's history.
type SessionEvent struct {
	At     time.Time `json:"at" yaml:"at"`
	Kind   string    `json:"kind" yaml:"kind"`
	Step   int       `json:"step,omitempty" yaml:"step,omitempty"` // 1-based
	Detail string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// SessionReport summarises a cook session for export.
type SessionReport struct {
	RecipeID       string         `json:"recipeId" yaml:"recipe_id"`
	Title          string         `json:"title,omitempty" yaml:"title,omitempty"`
	Status         string         `json:"status" yaml:"status"`
	CurrentStep    int            `json:"currentStep" yaml:"current_step"` // 1-based
	TotalSteps     int            `json:"totalSteps,omitempty" yaml:"total_steps,omitempty"`
	ElapsedSeconds int            `json:"elapsedSeconds" yaml:"elapsed_seconds"`
	PausedAt       *time.Time     `json:"pausedAt,omitempty" yaml:"paused_at,omitempty"`
	Events         []SessionEvent `json:"events,omitempty" yaml:"events,omitempty"`
}

// ReportFromCheckpoint builds a paused-session report. recipe may be nil.
func ReportFromCheckpoint(cp Checkpoint, recipe *Recipe) *SessionReport {
	paused := cp.PausedTime().UTC()
	r := &SessionReport{
		RecipeID:       cp.WorkflowID,
		Status:         ReportPaused,
		CurrentStep:    cp.ResumeStep(),
		ElapsedSeconds: cp.ElapsedSeconds,
		PausedAt:       &paused,
		Events: []SessionEvent{
			{At: paused, Kind: "paused", Step: cp.ResumeStep()},
		},
	}
	if recipe != nil {
		r.Title = recipe.Title
		r.TotalSteps = len(recipe.Steps)
	}
	return r
}

// FormatElapsed renders seconds as m:ss or h:mm:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds/60)%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
