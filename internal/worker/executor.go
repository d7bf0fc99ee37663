package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"jobpipe/features/job"
	"jobpipe/internal/logger"
	"jobpipe/internal/queue"
)

// Executor performs the side effect of a job once a notification for it
// arrives. Correctness under redelivery and concurrent workers rests on the
// store's conditional transitions: whoever wins Waiting→Processing owns the job.
type Executor struct {
	jobs       JobStore
	blobs      BlobStore
	converter  Converter
	mailer     Mailer
	scratchDir string
	logger     *slog.Logger
}

type Option func(*Executor)

// WithScratchDir sets where input and output files are staged for the
// converter. Defaults to os.TempDir().
func WithScratchDir(dir string) Option {
	return func(e *Executor) { e.scratchDir = dir }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(jobs JobStore, blobs BlobStore, converter Converter, mailer Mailer, opts ...Option) *Executor {
	e := &Executor{
		jobs:      jobs,
		blobs:     blobs,
		converter: converter,
		mailer:    mailer,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run consumes topic until ctx is cancelled.
func (e *Executor) Run(ctx context.Context, sub queue.Subscriber, topic string) error {
	e.logger.InfoContext(ctx, "executor started", "topic", topic)
	return sub.Subscribe(ctx, topic, queue.Recover(e.Handle))
}

// Handle processes one notification. It returns an error only when the
// message should be redelivered; a job's own failure is recorded on the row.
func (e *Executor) Handle(ctx context.Context, body []byte) error {
	n, err := queue.Resolve(body)
	if err != nil {
		e.logger.ErrorContext(ctx, "dropping malformed notification", "error", err)
		return nil
	}
	ctx = logger.WithJobID(ctx, n.JobID)

	err = e.jobs.Transition(ctx, n.JobID, job.StatusWaiting, job.StatusProcessing)
	switch {
	case errors.Is(err, job.ErrConflict):
		e.logger.InfoContext(ctx, "job not waiting, skipping notification")
		return nil
	case errors.Is(err, job.ErrNotFound):
		e.logger.WarnContext(ctx, "notification for unknown job")
		return nil
	case err != nil:
		return fmt.Errorf("claim job %s: %w", n.JobID, err)
	}

	if runErr := e.execute(ctx, n.JobID); runErr != nil {
		e.logger.ErrorContext(ctx, "job failed", "error", runErr)
		if err := e.jobs.Fail(ctx, n.JobID, cleanText(runErr.Error(), maxReason)); err != nil {
			// Left in Processing; the reaper rejects it after PROCESSING_TTL.
			e.logger.ErrorContext(ctx, "failed to record job failure", "error", err)
		}
		return nil
	}

	if err := e.jobs.Transition(ctx, n.JobID, job.StatusProcessing, job.StatusCompleted); err != nil {
		e.logger.ErrorContext(ctx, "failed to complete job", "error", err)
		return nil
	}
	e.logger.InfoContext(ctx, "job completed")
	return nil
}

func (e *Executor) execute(ctx context.Context, id string) error {
	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	p, err := j.Decode()
	if err != nil {
		return err
	}

	switch p := p.(type) {
	case job.ConvertParam:
		return e.convert(ctx, j, p)
	case job.EmailParam:
		return e.sendConfirmation(ctx, p)
	default:
		return fmt.Errorf("%w: %T", job.ErrUnknownKind, p)
	}
}

func (e *Executor) convert(ctx context.Context, j *job.Job, p job.ConvertParam) error {
	input, err := e.blobs.Get(ctx, j.InRef)
	if err != nil {
		return fmt.Errorf("fetch input: %w", err)
	}

	dir, err := os.MkdirTemp(e.scratchDir, "job-*")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	req := ConvertRequest{
		InPath:  filepath.Join(dir, "in."+p.InType),
		InType:  p.InType,
		OutPath: filepath.Join(dir, "out."+p.OutType),
		OutType: p.OutType,
	}
	if err := os.WriteFile(req.InPath, input, 0o600); err != nil {
		return fmt.Errorf("stage input: %w", err)
	}

	if err := e.converter.Convert(ctx, req); err != nil {
		return err
	}

	output, err := os.ReadFile(req.OutPath)
	if err != nil {
		return fmt.Errorf("converter produced no output: %w", err)
	}
	if err := e.blobs.Put(ctx, j.OutRef, output); err != nil {
		return fmt.Errorf("store output: %w", err)
	}
	e.logger.InfoContext(ctx, "conversion stored", "in_bytes", len(input), "out_bytes", len(output))
	return nil
}

func (e *Executor) sendConfirmation(ctx context.Context, p job.EmailParam) error {
	msg, err := RenderConfirmation(p)
	if err != nil {
		return err
	}
	id, err := e.mailer.Send(ctx, msg)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "confirmation email sent", "message_id", id)
	return nil
}
