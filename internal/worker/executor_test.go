package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobpipe/features/job"
	"jobpipe/internal/queue"
	"jobpipe/internal/worker"
)

func (f *fakeConverter) Convert(ctx context.Context, req worker.ConvertRequest) error {
	f.calls++
	f.got = req
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(req.OutPath, f.output, 0o600)
}

func convertJob(t *testing.T, id string) *job.Job {
	t.Helper()
	p, err := job.NewConvertParam("a.png", "a.jpg")
	require.NoError(t, err)
	raw, err := job.EncodeParam(p)
	require.NoError(t, err)
	return &job.Job{
		ID:     id,
		Kind:   job.KindImageConversion,
		Status: job.StatusProcessing,
		Param:  raw,
		InRef:  job.InRef(id),
		OutRef: job.OutRef(id),
	}
}

func emailJob(t *testing.T, id string) *job.Job {
	t.Helper()
	raw, err := job.EncodeParam(job.EmailParam{Address: "u@example.com", Username: "u", ConfirmURL: "https://example.com/c/1"})
	require.NoError(t, err)
	return &job.Job{ID: id, Kind: job.KindEmailConfirmation, Status: job.StatusProcessing, Param: raw, InRef: job.InRef(id), OutRef: job.OutRef(id)}
}

func objectEvent(t *testing.T, key string) []byte {
	t.Helper()
	body, err := json.Marshal(queue.NewObjectEvent("local", key, 3, "2026-01-01T00:00:00Z"))
	require.NoError(t, err)
	return body
}

func TestExecutor_ConvertSuccess(t *testing.T) {
	jobs := new(MockJobStore)
	blobs := new(MockBlobStore)
	conv := &fakeConverter{output: []byte("jpeg-bytes")}
	exec := worker.NewExecutor(jobs, blobs, conv, new(MockMailer), worker.WithScratchDir(t.TempDir()))

	jobs.On("Transition", mock.Anything, "j2", job.StatusWaiting, job.StatusProcessing).Return(nil)
	jobs.On("Get", mock.Anything, "j2").Return(convertJob(t, "j2"), nil)
	blobs.On("Get", mock.Anything, "in/j2").Return([]byte("png"), nil)
	blobs.On("Put", mock.Anything, "out/j2", []byte("jpeg-bytes")).Return(nil)
	jobs.On("Transition", mock.Anything, "j2", job.StatusProcessing, job.StatusCompleted).Return(nil)

	err := exec.Handle(context.Background(), objectEvent(t, "in/j2"))

	assert.NoError(t, err)
	assert.Equal(t, 1, conv.calls)
	assert.Equal(t, "png", conv.got.InType)
	assert.Equal(t, "jpeg", conv.got.OutType)
	jobs.AssertExpectations(t)
	blobs.AssertExpectations(t)
}

func TestExecutor_ConverterFailureMarksFailed(t *testing.T) {
	jobs := new(MockJobStore)
	blobs := new(MockBlobStore)
	conv := &fakeConverter{err: &worker.UpstreamError{Op: "convert", Output: "stderr: bad header", Err: errors.New("exit status 2")}}
	exec := worker.NewExecutor(jobs, blobs, conv, new(MockMailer), worker.WithScratchDir(t.TempDir()))

	jobs.On("Transition", mock.Anything, "j3", job.StatusWaiting, job.StatusProcessing).Return(nil)
	jobs.On("Get", mock.Anything, "j3").Return(convertJob(t, "j3"), nil)
	blobs.On("Get", mock.Anything, "in/j3").Return([]byte("png"), nil)
	jobs.On("Fail", mock.Anything, "j3", mock.MatchedBy(func(reason string) bool {
		return reason != "" && assert.Contains(t, reason, "bad header")
	})).Return(nil)

	err := exec.Handle(context.Background(), objectEvent(t, "in/j3"))

	assert.NoError(t, err)
	jobs.AssertExpectations(t)
	jobs.AssertNotCalled(t, "Transition", mock.Anything, "j3", job.StatusProcessing, job.StatusCompleted)
	blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_FailureReasonIsStorable(t *testing.T) {
	jobs := new(MockJobStore)
	blobs := new(MockBlobStore)
	conv := &fakeConverter{err: &worker.UpstreamError{Op: "convert", Output: "bad\x00byte \xc3", Err: errors.New("exit status 1")}}
	exec := worker.NewExecutor(jobs, blobs, conv, new(MockMailer), worker.WithScratchDir(t.TempDir()))

	jobs.On("Transition", mock.Anything, "j3b", job.StatusWaiting, job.StatusProcessing).Return(nil)
	jobs.On("Get", mock.Anything, "j3b").Return(convertJob(t, "j3b"), nil)
	blobs.On("Get", mock.Anything, "in/j3b").Return([]byte("png"), nil)
	jobs.On("Fail", mock.Anything, "j3b", mock.MatchedBy(func(reason string) bool {
		return reason != "" && utf8.ValidString(reason) && !strings.Contains(reason, "\x00")
	})).Return(nil)

	err := exec.Handle(context.Background(), objectEvent(t, "in/j3b"))

	assert.NoError(t, err)
	jobs.AssertExpectations(t)
}

func TestExecutor_RedeliveryIsNoop(t *testing.T) {
	jobs := new(MockJobStore)
	conv := &fakeConverter{}
	exec := worker.NewExecutor(jobs, new(MockBlobStore), conv, new(MockMailer))

	jobs.On("Transition", mock.Anything, "j4", job.StatusWaiting, job.StatusProcessing).Return(job.ErrConflict)

	err := exec.Handle(context.Background(), objectEvent(t, "in/j4"))

	assert.NoError(t, err)
	assert.Zero(t, conv.calls)
	jobs.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestExecutor_UnknownJobIsAcked(t *testing.T) {
	jobs := new(MockJobStore)
	exec := worker.NewExecutor(jobs, new(MockBlobStore), &fakeConverter{}, new(MockMailer))

	jobs.On("Transition", mock.Anything, "ghost", job.StatusWaiting, job.StatusProcessing).Return(job.ErrNotFound)

	body, _ := json.Marshal(queue.Notification{JobID: "ghost"})
	assert.NoError(t, exec.Handle(context.Background(), body))
}

func TestExecutor_ClaimErrorIsRedelivered(t *testing.T) {
	jobs := new(MockJobStore)
	exec := worker.NewExecutor(jobs, new(MockBlobStore), &fakeConverter{}, new(MockMailer))

	jobs.On("Transition", mock.Anything, "j5", job.StatusWaiting, job.StatusProcessing).Return(errors.New("connection reset"))

	body, _ := json.Marshal(queue.Notification{JobID: "j5"})
	assert.Error(t, exec.Handle(context.Background(), body))
}

func TestExecutor_MalformedMessageIsDropped(t *testing.T) {
	jobs := new(MockJobStore)
	exec := worker.NewExecutor(jobs, new(MockBlobStore), &fakeConverter{}, new(MockMailer))

	assert.NoError(t, exec.Handle(context.Background(), []byte("not json")))
	jobs.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_EmailSuccess(t *testing.T) {
	jobs := new(MockJobStore)
	mailer := new(MockMailer)
	exec := worker.NewExecutor(jobs, new(MockBlobStore), &fakeConverter{}, mailer)

	jobs.On("Transition", mock.Anything, "e1", job.StatusWaiting, job.StatusProcessing).Return(nil)
	jobs.On("Get", mock.Anything, "e1").Return(emailJob(t, "e1"), nil)
	mailer.On("Send", mock.Anything, mock.MatchedBy(func(m worker.Message) bool {
		return m.To == "u@example.com"
	})).Return("msg-1", nil)
	jobs.On("Transition", mock.Anything, "e1", job.StatusProcessing, job.StatusCompleted).Return(nil)

	body, _ := json.Marshal(queue.Notification{JobID: "e1"})
	assert.NoError(t, exec.Handle(context.Background(), body))
	jobs.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestExecutor_EmailProviderFailure(t *testing.T) {
	jobs := new(MockJobStore)
	mailer := new(MockMailer)
	exec := worker.NewExecutor(jobs, new(MockBlobStore), &fakeConverter{}, mailer)

	jobs.On("Transition", mock.Anything, "e2", job.StatusWaiting, job.StatusProcessing).Return(nil)
	jobs.On("Get", mock.Anything, "e2").Return(emailJob(t, "e2"), nil)
	mailer.On("Send", mock.Anything, mock.Anything).Return("", &worker.UpstreamError{Op: "smtp send", Err: errors.New("550 mailbox unavailable")})
	jobs.On("Fail", mock.Anything, "e2", "smtp send: 550 mailbox unavailable").Return(nil)

	body, _ := json.Marshal(queue.Notification{JobID: "e2"})
	assert.NoError(t, exec.Handle(context.Background(), body))
	jobs.AssertExpectations(t)
}

func TestExecutor_RunStopsWithContext(t *testing.T) {
	broker := queue.NewMemoryBroker(8)
	jobs := new(MockJobStore)
	mailer := new(MockMailer)
	exec := worker.NewExecutor(jobs, new(MockBlobStore), &fakeConverter{}, mailer)

	done := make(chan struct{})
	jobs.On("Transition", mock.Anything, "e3", job.StatusWaiting, job.StatusProcessing).Return(nil)
	jobs.On("Get", mock.Anything, "e3").Return(emailJob(t, "e3"), nil)
	mailer.On("Send", mock.Anything, mock.Anything).Return("msg-3", nil)
	jobs.On("Transition", mock.Anything, "e3", job.StatusProcessing, job.StatusCompleted).Return(nil).Run(func(mock.Arguments) {
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- exec.Run(ctx, broker, "jobs.email") }()

	body, _ := json.Marshal(queue.Notification{JobID: "e3"})
	require.NoError(t, broker.Publish("jobs.email", body))

	<-done
	cancel()
	assert.NoError(t, <-errCh)
}
