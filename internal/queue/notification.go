package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var ErrMalformed = errors.New("queue: malformed notification")

// Notification tells a worker that a job is ready.
type Notification struct {
	JobID   string `json:"job_id"`
	BatchID *int64 `json:"batch_id,omitempty"`
}

// ObjectEvent is the store-native "object created" envelope, in the shape an
// S3-compatible store publishes for bucket notifications.
type ObjectEvent struct {
	EventName string        `json:"EventName"`
	Key       string        `json:"Key"`
	Records   []EventRecord `json:"Records"`
}

type EventRecord struct {
	EventVersion string   `json:"eventVersion"`
	EventSource  string   `json:"eventSource"`
	EventTime    string   `json:"eventTime"`
	EventName    string   `json:"eventName"`
	S3           S3Entity `json:"s3"`
}

type S3Entity struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

type S3Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

const ObjectCreatedPut = "s3:ObjectCreated:Put"

// NewObjectEvent builds a single-record envelope for key in bucket.
func NewObjectEvent(bucket, key string, size int64, eventTime string) ObjectEvent {
	return ObjectEvent{
		EventName: ObjectCreatedPut,
		Key:       bucket + "/" + key,
		Records: []EventRecord{{
			EventVersion: "2.0",
			EventSource:  "aws:s3",
			EventTime:    eventTime,
			EventName:    ObjectCreatedPut,
			S3: S3Entity{
				Bucket: S3Bucket{Name: bucket},
				Object: S3Object{Key: url.QueryEscape(key), Size: size},
			},
		}},
	}
}

// Resolved is a notification reduced to the job it refers to.
type Resolved struct {
	JobID   string
	BatchID *int64
	Key     string
}

// Resolve accepts either a Notification or an ObjectEvent. For object events
// the job id is the last path segment of the object key.
func Resolve(body []byte) (Resolved, error) {
	var msg struct {
		Notification
		Records []EventRecord `json:"Records"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.JobID != "" {
		return Resolved{JobID: msg.JobID, BatchID: msg.BatchID}, nil
	}
	if len(msg.Records) == 0 {
		return Resolved{}, fmt.Errorf("%w: no job_id and no records", ErrMalformed)
	}

	key, err := url.QueryUnescape(msg.Records[0].S3.Object.Key)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: object key: %v", ErrMalformed, err)
	}
	key = strings.TrimSuffix(key, "/")
	id := path.Base(key)
	if key == "" || id == "." || id == "/" {
		return Resolved{}, fmt.Errorf("%w: empty object key", ErrMalformed)
	}
	return Resolved{JobID: id, Key: key}, nil
}
