package worker

import (
	"context"

	"jobpipe/features/job"
)

// JobStore is the slice of the job repository the executor drives.
type JobStore interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Transition(ctx context.Context, id string, from, to job.Status) error
	Fail(ctx context.Context, id, reason string) error
}

type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// ConvertRequest is the one-line request handed to the converter process.
type ConvertRequest struct {
	InPath  string `json:"in_path"`
	InType  string `json:"in_type"`
	OutPath string `json:"out_path"`
	OutType string `json:"out_type"`
}

type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) error
}

type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends one message and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}
