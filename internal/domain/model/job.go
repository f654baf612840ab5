// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/baseline/internal/domain/result"
)

// JobKind names a background synchronization task.
type JobKind string

// Job kinds.
const (
	// JobUpload sends one result's telemetry to the remote service.
	JobUpload JobKind = "upload"
	// JobPoll fetches distribution updates and recomputed scores.
	JobPoll JobKind = "poll"
)

// Job is a unit of background synchronization work.
type Job struct {
	Kind     JobKind   // what to do
	ResultID result.ID // set for JobUpload
	Attempt  int       // 0 on first try
	TS       time.Time // enqueue time
}

// Key identifies jobs that may be coalesced: at most one queued upload per
// result and at most one queued poll.
func (j Job) Key() string {
	if j.Kind == JobUpload {
		return string(j.Kind) + ":" + j.ResultID.String()
	}
	return string(j.Kind)
}
