package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/captionreel/internal/errs"
)

// Enums
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaImage || k == MediaVideo
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// CurrentJobVersion is the newest Job record layout this build understands.
// Records without a version are treated as version 1.
const CurrentJobVersion = 1

// MediaInfo is what probing a downloaded file yields.
type MediaInfo struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"durationSeconds"`
	HasAudio        bool    `json:"hasAudio"`
}

// Job is the queue-transported form of a dispatched session.
type Job struct {
	Version          int       `json:"version,omitempty"`
	JobID            string    `json:"jobId"`
	ChatID           string    `json:"chatId"`
	FileID           string    `json:"fileId"`
	MediaKind        MediaKind `json:"mediaKind"`
	CaptionText      string    `json:"captionText"`
	ApplyFade        bool      `json:"applyFade"`
	MessagesToDelete IDList    `json:"messagesToDelete,omitempty"`
	StatusMessageID  string    `json:"statusMessageId,omitempty"`
}

// ChatIDInt returns the chat id as the front end's numeric form.
func (j *Job) ChatIDInt() (int64, error) {
	return strconv.ParseInt(j.ChatID, 10, 64)
}

// StatusMessageIDInt returns the status message id, or 0 when absent.
func (j *Job) StatusMessageIDInt() int {
	n, err := strconv.Atoi(j.StatusMessageID)
	if err != nil {
		return 0
	}
	return n
}

// Validate checks a decoded Job for the fields every render needs.
func (j *Job) Validate() error {
	var problems []string
	if j.Version > CurrentJobVersion {
		problems = append(problems, fmt.Sprintf("unsupported version %d", j.Version))
	}
	if strings.TrimSpace(j.JobID) == "" {
		problems = append(problems, "jobId is required")
	}
	if _, err := j.ChatIDInt(); err != nil {
		problems = append(problems, "chatId must be an integer")
	}
	if strings.TrimSpace(j.FileID) == "" {
		problems = append(problems, "fileId is required")
	}
	if !j.MediaKind.Valid() {
		problems = append(problems, fmt.Sprintf("mediaKind %q is not image or video", j.MediaKind))
	}
	if strings.TrimSpace(j.CaptionText) == "" {
		problems = append(problems, "captionText is required")
	}
	if len(problems) > 0 {
		return errs.New(errs.KindQueueDecode, "job.validate", strings.Join(problems, "; "))
	}
	return nil
}

// DecodeJob parses and validates a raw queue entry.
func DecodeJob(data []byte) (*Job, error) {
	var job Job
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&job); err != nil {
		return nil, errs.Wrap(errs.KindQueueDecode, "job.decode", "malformed job record", err)
	}
	if job.Version == 0 {
		job.Version = CurrentJobVersion
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// IDList is a list of front-end message ids. Producers are inconsistent
// about quoting, so both JSON strings and numbers are accepted.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("message id %s is neither string nor number", string(r))
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

// Value stores the list as a JSON array column.
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l *IDList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported IDList source %T", value)
		}
		b = []byte(s)
	}
	return l.UnmarshalJSON(b)
}

// RenderRecord is one row of the render ledger.
type RenderRecord struct {
	ID               string     `json:"id"`
	ChatID           string     `json:"chat_id"`
	MediaKind        MediaKind  `json:"media_kind"`
	ApplyFade        bool       `json:"apply_fade"`
	Status           JobStatus  `json:"status"`
	ErrorKind        *string    `json:"error_kind,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	MessagesToDelete IDList     `json:"messages_to_delete,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// EnqueueJobRequest is the body of POST /v1/jobs.
type EnqueueJobRequest struct {
	ChatID           string    `json:"chatId"`
	FileID           string    `json:"fileId"`
	MediaKind        MediaKind `json:"mediaKind"`
	CaptionText      string    `json:"captionText"`
	ApplyFade        bool      `json:"applyFade"`
	MessagesToDelete IDList    `json:"messagesToDelete,omitempty"`
}

type EnqueueJobResponse struct {
	JobID    string `json:"jobId"`
	QueueLen int64  `json:"queueLength"`
}

type QueueStatusResponse struct {
	Queue  string `json:"queue"`
	Length int64  `json:"length"`
}
