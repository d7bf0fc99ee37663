package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"jobpipe/features/job"
)

type MockJobCounter struct{ mock.Mock }

func (m *MockJobCounter) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[job.Status]int), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockJobCounter)
		wantStatus int
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(j *MockJobCounter) {
				j.On("CountByStatus", mock.Anything).Return(map[job.Status]int{
					job.StatusPreparing:  1,
					job.StatusWaiting:    2,
					job.StatusProcessing: 1,
					job.StatusCompleted:  5,
					job.StatusRejected:   0,
					job.StatusFailed:     3,
				}, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 12, data["total"])
				assert.EqualValues(t, 4, data["active"])
				jobs := data["jobs"].(map[string]interface{})
				assert.EqualValues(t, 3, jobs["failed"])
			},
		},
		{
			name: "Repo Error",
			setupMocks: func(j *MockJobCounter) {
				j.On("CountByStatus", mock.Anything).Return(nil, errors.New("db down"))
			},
			wantStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				errObj := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errObj["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := new(MockJobCounter)
			tt.setupMocks(j)

			h := NewHandler(j)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			tt.checkBody(t, body)
		})
	}
}
