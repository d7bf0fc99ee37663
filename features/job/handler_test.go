package job_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobpipe/features/job"
	"jobpipe/internal/middleware"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_CreateConversion(t *testing.T) {
	repo := new(MockRepo)
	blobs := new(MockBlobs)
	handler := job.NewHandler(newService(repo, blobs, new(MockPublisher), "J1"))

	repo.On("Create", mock.Anything, mock.MatchedBy(func(j *job.Job) bool { return j.Owner == "u1" })).Return(nil)
	blobs.On("UploadURL", mock.Anything, "in/J1", mock.Anything).Return("http://up", nil)
	repo.On("Transition", mock.Anything, "J1", job.StatusPreparing, job.StatusWaiting).Return(nil)

	req := httptest.NewRequest("POST", "/jobs/conversions", bytes.NewBufferString(`{"in_name":"a.png","out_name":"a.jpg"}`))
	req = req.WithContext(middleware.WithCaller(req.Context(), "u1"))
	w := httptest.NewRecorder()

	handler.CreateConversion(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "J1", data["job_id"])
	assert.Equal(t, "http://up", data["upload_url"])
}

func TestHandler_CreateConversion_UnsupportedType(t *testing.T) {
	repo := new(MockRepo)
	handler := job.NewHandler(newService(repo, new(MockBlobs), new(MockPublisher)))

	req := httptest.NewRequest("POST", "/jobs/conversions", bytes.NewBufferString(`{"in_name":"a.txt","out_name":"a.jpg"}`))
	w := httptest.NewRecorder()

	handler.CreateConversion(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandler_CreateConversion_BadJSON(t *testing.T) {
	handler := job.NewHandler(newService(new(MockRepo), new(MockBlobs), new(MockPublisher)))

	req := httptest.NewRequest("POST", "/jobs/conversions", bytes.NewBufferString(`{`))
	w := httptest.NewRecorder()

	handler.CreateConversion(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateEmail(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	handler := job.NewHandler(newService(repo, new(MockBlobs), pub, "E1"))

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	repo.On("Transition", mock.Anything, "E1", job.StatusPreparing, job.StatusWaiting).Return(nil)
	pub.On("Publish", "jobs.email", mock.Anything).Return(nil)

	req := httptest.NewRequest("POST", "/jobs/emails", bytes.NewBufferString(`{"address":"a@example.com","username":"a","confirm_url":"https://x/c"}`))
	w := httptest.NewRecorder()

	handler.CreateEmail(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "E1", data["job_id"])
	_, hasUpload := data["upload_url"]
	assert.False(t, hasUpload)
}

func TestHandler_CreateEmail_InvalidAddress(t *testing.T) {
	handler := job.NewHandler(newService(new(MockRepo), new(MockBlobs), new(MockPublisher)))

	req := httptest.NewRequest("POST", "/jobs/emails", bytes.NewBufferString(`{"address":"nope","confirm_url":"https://x/c"}`))
	w := httptest.NewRecorder()

	handler.CreateEmail(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateEmail_PublishFailure(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	handler := job.NewHandler(newService(repo, new(MockBlobs), pub, "E2"))

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	repo.On("Transition", mock.Anything, "E2", job.StatusPreparing, job.StatusWaiting).Return(nil)
	pub.On("Publish", "jobs.email", mock.Anything).Return(errors.New("nsqd unreachable"))

	req := httptest.NewRequest("POST", "/jobs/emails", bytes.NewBufferString(`{"address":"a@example.com","confirm_url":"https://x/c"}`))
	w := httptest.NewRecorder()

	handler.CreateEmail(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_Get(t *testing.T) {
	repo := new(MockRepo)
	handler := job.NewHandler(newService(repo, new(MockBlobs), new(MockPublisher)))

	repo.On("Get", mock.Anything, "J1").Return(storedJob(t, "J1", job.StatusWaiting, "", mustConvert(t)), nil)

	req := httptest.NewRequest("GET", "/jobs/J1", nil)
	req.SetPathValue("id", "J1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "waiting", data["status"])
	assert.Nil(t, data["download_url"])
}

func TestHandler_Get_NotFound(t *testing.T) {
	repo := new(MockRepo)
	handler := job.NewHandler(newService(repo, new(MockBlobs), new(MockPublisher)))

	repo.On("Get", mock.Anything, "99").Return(nil, job.ErrNotFound)

	req := httptest.NewRequest("GET", "/jobs/99", nil)
	req.SetPathValue("id", "99")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]interface{})["code"])
	assert.Contains(t, body, "correlationId")
}
