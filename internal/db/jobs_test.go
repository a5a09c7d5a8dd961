package db

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/captionreel/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &DB{DB: conn}, mock
}

func TestRecordQueued(t *testing.T) {
	db, mock := newMockDB(t)
	job := &models.Job{JobID: "j1", ChatID: "5", MediaKind: models.MediaVideo, ApplyFade: true, MessagesToDelete: models.IDList{"3"}}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO render_jobs")).
		WithArgs("j1", "5", models.MediaVideo, true, models.JobStatusQueued, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.RecordQueued(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedTruncatesMessage(t *testing.T) {
	db, mock := newMockDB(t)
	long := strings.Repeat("e", 5000)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE render_jobs")).
		WithArgs(models.JobStatusFailed, "render", strings.Repeat("e", 2000), sqlmock.AnyArg(), "j1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.MarkFailed(context.Background(), "j1", "render", long))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRenderJob(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "chat_id", "media_kind", "apply_fade", "status", "error_kind", "error_message",
		"messages_to_delete", "started_at", "finished_at", "created_at",
	}).AddRow("j1", "5", "image", false, "succeeded", nil, nil, []byte(`["1","2"]`), now, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM render_jobs")).WithArgs("j1").WillReturnRows(rows)

	rec, err := db.GetRenderJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.MediaImage, rec.MediaKind)
	assert.Equal(t, models.JobStatusSucceeded, rec.Status)
	assert.Equal(t, models.IDList{"1", "2"}, rec.MessagesToDelete)
	assert.Nil(t, rec.ErrorKind)
}

func TestGetRenderJobNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM render_jobs")).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := db.GetRenderJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
