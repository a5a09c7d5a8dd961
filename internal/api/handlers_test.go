package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/captionreel/internal/db"
	"github.com/bobarin/captionreel/internal/models"
)

type memQueue struct {
	jobs []*models.Job
}

func (q *memQueue) Name() string { return "video_jobs" }

func (q *memQueue) Enqueue(_ context.Context, job *models.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Length(context.Context) (int64, error) { return int64(len(q.jobs)), nil }

type memLedger struct {
	queued  []string
	records map[string]*models.RenderRecord
}

func (l *memLedger) RecordQueued(_ context.Context, job *models.Job) error {
	l.queued = append(l.queued, job.JobID)
	return nil
}

func (l *memLedger) GetRenderJob(_ context.Context, id string) (*models.RenderRecord, error) {
	rec, ok := l.records[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return rec, nil
}

func newTestRouter(q JobQueue, l JobLedger, key string) http.Handler {
	return NewRouter(NewHandler(q, l, zerolog.Nop()), RouterConfig{BackendAPIKey: key, Logger: zerolog.Nop()})
}

func TestHealthIsWarmAndPublic(t *testing.T) {
	r := newTestRouter(nil, nil, "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warm", rec.Body.String())
}

func TestEnqueueJob(t *testing.T) {
	q := &memQueue{}
	l := &memLedger{}
	r := newTestRouter(q, l, "secret")

	body := `{"chatId":"12","fileId":"abc","mediaKind":"image","captionText":"hi","applyFade":true,"messagesToDelete":[1,"2"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.EnqueueJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, int64(1), resp.QueueLen)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, models.IDList{"1", "2"}, q.jobs[0].MessagesToDelete)
	assert.Equal(t, []string{resp.JobID}, l.queued)
}

func TestEnqueueJobRejectsInvalid(t *testing.T) {
	q := &memQueue{}
	r := newTestRouter(q, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"chatId":"x","mediaKind":"gif"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatId must be an integer")
	assert.Empty(t, q.jobs)
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(&memQueue{}, nil, "secret")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"video_jobs","length":0}`, rec.Body.String())
}

func TestGetJob(t *testing.T) {
	l := &memLedger{records: map[string]*models.RenderRecord{
		"j1": {ID: "j1", ChatID: "5", MediaKind: models.MediaVideo, Status: models.JobStatusSucceeded},
	}}
	r := newTestRouter(nil, l, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"succeeded"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnconfiguredBackends(t *testing.T) {
	r := newTestRouter(nil, nil, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/j", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
