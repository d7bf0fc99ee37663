package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobpipe/internal/queue"
)

// uploadPrefix is the only key space clients may write to; out/ objects are
// written by the executor through Put.
const uploadPrefix = "in/"

// Emulator stands in for a cloud object store during local development. It
// serves presigned-style upload and download routes over HTTP, keeps objects
// on disk and publishes an object-created event for every upload it accepts.
//
// Expiry is carried in the URL for parity with the real store but not enforced.
type Emulator struct {
	fs        LocalFS
	baseURL   string
	bucket    string
	pub       queue.Publisher
	topic     string
	maxUpload int64
	now       func() time.Time
}

type EmulatorOption func(*Emulator)

// WithNotifier publishes an ObjectEvent to topic after each successful upload.
func WithNotifier(pub queue.Publisher, topic string) EmulatorOption {
	return func(e *Emulator) {
		e.pub = pub
		e.topic = topic
	}
}

func WithMaxUpload(n int64) EmulatorOption {
	return func(e *Emulator) { e.maxUpload = n }
}

func WithBucket(name string) EmulatorOption {
	return func(e *Emulator) { e.bucket = name }
}

// NewEmulator stores objects under root. baseURL is the externally reachable
// address the Handler is mounted at, e.g. "http://localhost:8081/blob".
func NewEmulator(root, baseURL string, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		fs:        LocalFS{Root: root},
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		bucket:    "local",
		maxUpload: 50 << 20,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Emulator) signedURL(route, key string, ttl time.Duration, extra url.Values) (string, error) {
	if _, err := e.fs.path(key); err != nil {
		return "", err
	}
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("expires", strconv.FormatInt(e.now().Add(ttl).Unix(), 10))
	return fmt.Sprintf("%s/%s/%s?%s", e.baseURL, route, escapeKey(key), q.Encode()), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (e *Emulator) UploadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return e.signedURL("upload", key, ttl, nil)
}

func (e *Emulator) DownloadURL(_ context.Context, key string, ttl time.Duration, displayName string) (string, error) {
	extra := url.Values{}
	if displayName != "" {
		extra.Set("name", displayName)
	}
	return e.signedURL("download", key, ttl, extra)
}

func (e *Emulator) Get(_ context.Context, key string) ([]byte, error) {
	f, err := e.fs.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (e *Emulator) Put(_ context.Context, key string, data []byte) error {
	_, err := e.fs.Put(key, bytes.NewReader(data))
	return err
}

// Handler serves PUT /upload/{key...} and GET /download/{key...}. The routes
// are verb-scoped so an upload URL can never be used to read.
func (e *Emulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /upload/{key...}", e.handleUpload)
	mux.HandleFunc("GET /download/{key...}", e.handleDownload)
	return mux
}

func (e *Emulator) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")
	if !strings.HasPrefix(key, uploadPrefix) {
		http.Error(w, "uploads are limited to "+uploadPrefix, http.StatusForbidden)
		return
	}

	body := http.MaxBytesReader(w, r.Body, e.maxUpload)
	n, err := e.fs.Put(key, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, ErrInvalidKey):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &maxErr):
			http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
		default:
			slog.ErrorContext(ctx, "emulator upload failed", "key", key, "error", err)
			http.Error(w, "upload failed", http.StatusInternalServerError)
		}
		return
	}
	slog.InfoContext(ctx, "emulator object written", "key", key, "size", n)

	if e.pub != nil {
		event := queue.NewObjectEvent(e.bucket, key, n, e.now().UTC().Format(time.RFC3339))
		payload, err := json.Marshal(event)
		if err == nil {
			err = e.pub.Publish(e.topic, payload)
		}
		if err != nil {
			// The object is stored but nobody will hear about it; make the
			// client retry the upload.
			slog.ErrorContext(ctx, "emulator failed to publish object event", "key", key, "error", err)
			http.Error(w, "object stored but notification failed", http.StatusBadGateway)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (e *Emulator) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	f, err := e.fs.Open(key)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidKey):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "download failed", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	name := r.URL.Query().Get("name")
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
