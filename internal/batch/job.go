// Package batch orchestrates one processing run over a set of uploaded files:
// archive expansion, token extraction, match resolution, name allocation, and
// the final move into the destination namespace.
package batch

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Status is the lifecycle of a batch job.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Summary counts per-file outcomes of a pass: files that produced a record and
// files whose expansion, save, or move failed. Both the background and inline
// paths report at this granularity.
type Summary struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

type jobState struct {
	status  Status
	summary Summary
}

// Job is one asynchronous processing run. Status and summary are published as
// a single atomic snapshot so polling never observes a half-written update.
type Job struct {
	ID    uuid.UUID
	state atomic.Pointer[jobState]
}

func newJob() *Job {
	j := &Job{ID: uuid.New()}
	j.state.Store(&jobState{status: StatusRunning})
	return j
}

// Snapshot returns the job's status and summary as one consistent read.
func (j *Job) Snapshot() (Status, Summary) {
	s := j.state.Load()
	return s.status, s.summary
}

// Running reports whether the pass has not reached a terminal state yet.
func (j *Job) Running() bool {
	return j.state.Load().status == StatusRunning
}

func (j *Job) complete(summary Summary) {
	j.state.Store(&jobState{status: StatusCompleted, summary: summary})
}

func (j *Job) fail() {
	j.state.Store(&jobState{status: StatusFailed, summary: Summary{Errors: 1}})
}

// FileRecord is the per-file outcome emitted into the batch result list. Field
// names follow the wire format existing consumers expect.
type FileRecord struct {
	OriginalName  string `json:"original_name"`
	NewName       string `json:"new_name"`
	Status        string `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Contract      string `json:"contract"`
	Location      string `json:"ubicacion"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}
