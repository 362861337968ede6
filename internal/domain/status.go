package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a task instance.
type Status string

const (
	StatusNotStarted    Status = "NOT_STARTED"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusCompleted     Status = "COMPLETED"
	StatusDone          Status = "DONE"
	StatusNotApplicable Status = "NOT_APPLICABLE"
	StatusNoLongerUsing Status = "NO_LONGER_USING"
	// StatusRetired is set by sync when the source template stops being
	// eligible. It is never set manually.
	StatusRetired Status = "RETIRED"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusCompleted,
	StatusDone,
	StatusNotApplicable,
	StatusNoLongerUsing,
	StatusRetired,
}

func ParseStatus(s string) (Status, error) {
	norm := Status(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))))
	for _, st := range Statuses {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", s)
}

// CountsAsDone reports whether the status contributes its weight to a plan's
// completed weight.
func (s Status) CountsAsDone() bool {
	switch s {
	case StatusCompleted, StatusDone, StatusNotApplicable, StatusNoLongerUsing:
		return true
	}
	return false
}

// ManualTerminal reports whether the status is a manually set end state that
// automatic evaluation must not override.
func (s Status) ManualTerminal() bool {
	switch s {
	case StatusDone, StatusNotApplicable, StatusNoLongerUsing:
		return true
	}
	return false
}

// AutoCompletable reports whether telemetry may move the status to COMPLETED.
func (s Status) AutoCompletable() bool {
	return s == StatusNotStarted || s == StatusInProgress
}

// UpdateSource records who last changed a task status.
type UpdateSource string

const (
	SourceSync      UpdateSource = "sync"
	SourceManual    UpdateSource = "manual"
	SourceTelemetry UpdateSource = "telemetry"
)
