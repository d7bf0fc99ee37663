package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobpipe/internal/config"
	"jobpipe/internal/queue"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// BlobSigner mints presigned URLs for a job's blobs.
type BlobSigner interface {
	UploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DownloadURL(ctx context.Context, key string, ttl time.Duration, displayName string) (string, error)
}

type IDGenerator interface {
	NewID() (string, error)
}

type Settings struct {
	UploadTTL      time.Duration
	DownloadTTL    time.Duration
	WaitingTTL     time.Duration
	ProcessingTTL  time.Duration
	PublishTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		UploadTTL:      15 * time.Minute,
		DownloadTTL:    15 * time.Minute,
		WaitingTTL:     24 * time.Hour,
		ProcessingTTL:  time.Hour,
		PublishTimeout: 5 * time.Second,
	}
}

type Service struct {
	repo     Repository
	blobs    BlobSigner
	pub      EventPublisher
	ids      IDGenerator
	logger   *slog.Logger
	settings Settings
}

func NewService(repo Repository, blobs BlobSigner, pub EventPublisher, ids IDGenerator, logger *slog.Logger, settings Settings) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, blobs: blobs, pub: pub, ids: ids, logger: logger, settings: settings}
}

type CreateRequest struct {
	// ID is optional; one is generated when empty.
	ID    string
	Param Param
	Owner string
}

type CreateResult struct {
	JobID     string `json:"job_id"`
	UploadURL string `json:"upload_url,omitempty"`
}

// Create persists a new job and moves it to Waiting. Conversion jobs get an
// upload URL and are triggered later by the object-written event; email jobs
// are enqueued directly.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Param == nil {
		return nil, fmt.Errorf("%w: missing param", ErrInvalidParam)
	}
	if err := req.Param.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		var err error
		if id, err = s.ids.NewID(); err != nil {
			return nil, fmt.Errorf("generate job id: %w", err)
		}
	}

	raw, err := EncodeParam(req.Param)
	if err != nil {
		return nil, err
	}

	j := &Job{
		ID:     id,
		Kind:   req.Param.Kind(),
		Param:  raw,
		Owner:  req.Owner,
		InRef:  InRef(id),
		OutRef: OutRef(id),
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job created", "job_id", id, "kind", j.Kind)

	switch req.Param.(type) {
	case ConvertParam:
		uploadURL, err := s.blobs.UploadURL(ctx, j.InRef, s.settings.UploadTTL)
		if err != nil {
			return nil, fmt.Errorf("issue upload url: %w", err)
		}
		if err := s.repo.Transition(ctx, id, StatusPreparing, StatusWaiting); err != nil {
			return nil, err
		}
		return &CreateResult{JobID: id, UploadURL: uploadURL}, nil

	case EmailParam:
		// Move to Waiting before publishing. A notification consumed while the
		// row is still Preparing fails the executor's Waiting guard and is
		// dropped, leaving the job stranded.
		if err := s.repo.Transition(ctx, id, StatusPreparing, StatusWaiting); err != nil {
			return nil, err
		}
		body, err := json.Marshal(queue.Notification{JobID: id})
		if err != nil {
			return nil, err
		}
		if err := s.publish(ctx, config.TopicEmail, body); err != nil {
			return nil, fmt.Errorf("enqueue job %s: %w", id, err)
		}
		return &CreateResult{JobID: id}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, j.Kind)
	}
}

func (s *Service) publish(ctx context.Context, topic string, body []byte) error {
	timeout := s.settings.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topic, body)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timeout waiting for queue publish")
	}
}

type Result struct {
	JobID        string `json:"job_id"`
	Status       Status `json:"status"`
	DownloadURL  string `json:"download_url,omitempty"`
	FailedReason string `json:"failed_reason,omitempty"`
}

// GetResult reports the job's status. A download URL is minted only for a
// completed job with an output blob, and only when caller owns the job or the
// job has no owner.
func (s *Service) GetResult(ctx context.Context, id, caller string) (*Result, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &Result{JobID: j.ID, Status: j.Status}
	if !j.VisibleTo(caller) {
		return res, nil
	}
	if j.Status == StatusFailed {
		res.FailedReason = j.FailedReason
	}
	if j.Status != StatusCompleted {
		return res, nil
	}

	p, err := j.Decode()
	if err != nil {
		return nil, err
	}
	if cp, ok := p.(ConvertParam); ok {
		res.DownloadURL, err = s.blobs.DownloadURL(ctx, j.OutRef, s.settings.DownloadTTL, cp.OutName)
		if err != nil {
			return nil, fmt.Errorf("issue download url: %w", err)
		}
	}
	return res, nil
}

const reapBatch = 100

// ReapAbandoned rejects jobs left in Waiting or Processing longer than the
// configured TTLs. A zero TTL disables reaping for that status.
func (s *Service) ReapAbandoned(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, rule := range []struct {
		status Status
		ttl    time.Duration
	}{
		{StatusWaiting, s.settings.WaitingTTL},
		{StatusProcessing, s.settings.ProcessingTTL},
	} {
		if rule.ttl <= 0 {
			continue
		}
		ids, err := s.repo.ListStale(ctx, rule.status, now.Add(-rule.ttl), reapBatch)
		if err != nil {
			return total, fmt.Errorf("list stale %s jobs: %w", rule.status, err)
		}
		for _, id := range ids {
			err := s.repo.Transition(ctx, id, rule.status, StatusRejected)
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return total, err
			}
			s.logger.WarnContext(ctx, "rejected abandoned job", "job_id", id, "status", rule.status)
			total++
		}
	}
	return total, nil
}

// RunReaper calls ReapAbandoned every interval until ctx is cancelled.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := s.ReapAbandoned(ctx, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "reaper pass failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "reaper pass finished", "rejected", n)
			}
		}
	}
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
