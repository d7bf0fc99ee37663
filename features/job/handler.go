package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"jobpipe/internal/middleware"
)

const maxRequestBody = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type createConversionRequest struct {
	InName  string `json:"in_name"`
	OutName string `json:"out_name"`
}

func (h *Handler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req createConversionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}

	p, err := NewConvertParam(req.InName, req.OutName)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "creating conversion job", "in_name", req.InName, "out_name", req.OutName, "correlationId", correlationID)
	h.create(w, r, p)
}

func (h *Handler) CreateEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p EmailParam
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&p); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}
	h.create(w, r, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, p Param) {
	ctx := r.Context()
	res, err := h.service.Create(ctx, CreateRequest{Param: p, Owner: middleware.GetCaller(ctx)})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create job", "kind", p.Kind(), "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusCreated, res)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	res, err := h.service.GetResult(ctx, id, middleware.GetCaller(ctx))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.ErrorContext(ctx, "failed to get job", "id", id, "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		}
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, res)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidParam):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
	case errors.Is(err, ErrDuplicated), errors.Is(err, ErrConflict):
		h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
	default:
		h.writeError(ctx, w, "INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
