package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"jobpipe/features/job"
	"jobpipe/internal/worker"
)

type MockJobStore struct{ mock.Mock }

func (m *MockJobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *MockJobStore) Transition(ctx context.Context, id string, from, to job.Status) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockJobStore) Fail(ctx context.Context, id, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

type MockBlobStore struct{ mock.Mock }

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

type MockMailer struct{ mock.Mock }

func (m *MockMailer) Send(ctx context.Context, msg worker.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

// fakeConverter writes a fixed output to the requested path.
type fakeConverter struct {
	output []byte
	err    error
	got    worker.ConvertRequest
	calls  int
}
