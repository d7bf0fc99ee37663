package job

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPreparing  Status = "preparing"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in graph order.
var Statuses = []Status{
	StatusPreparing,
	StatusWaiting,
	StatusProcessing,
	StatusCompleted,
	StatusRejected,
	StatusFailed,
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

type Kind string

const (
	KindImageConversion   Kind = "image_conversion"
	KindEmailConfirmation Kind = "email_confirmation"
)

// Job is the durable record of one unit of asynchronous work.
type Job struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Status       Status          `json:"status"`
	Param        json.RawMessage `json:"param"`
	Owner        string          `json:"owner,omitempty"`
	InRef        string          `json:"in_ref"`
	OutRef       string          `json:"out_ref"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// InRef and OutRef are the only blob keys a job ever touches.
func InRef(id string) string  { return "in/" + id }
func OutRef(id string) string { return "out/" + id }

// Decode returns the typed parameter payload for the job's kind.
func (j *Job) Decode() (Param, error) {
	return DecodeParam(j.Kind, j.Param)
}

// VisibleTo reports whether caller may see the job's output.
// Jobs without an owner are public.
func (j *Job) VisibleTo(caller string) bool {
	return j.Owner == "" || j.Owner == caller
}
