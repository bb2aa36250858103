package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/models"
)

func newMockPostRepo(t *testing.T) (PostRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostRepository(db), mock
}

func TestUpdateStatusFromWins(t *testing.T) {
	repo, mock := newMockPostRepo(t)

	mock.ExpectExec("UPDATE posts").
		WithArgs(models.PostStatusProcessing, sqlmock.AnyArg(), int64(1), models.PostStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateStatusFrom(context.Background(), 1, models.PostStatusScheduled, models.PostStatusProcessing)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusFromLosesRace(t *testing.T) {
	repo, mock := newMockPostRepo(t)

	// Another writer already moved the post; the guarded update touches no rows.
	mock.ExpectExec("UPDATE posts").
		WithArgs(models.PostStatusProcessing, sqlmock.AnyArg(), int64(1), models.PostStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatusFrom(context.Background(), 1, models.PostStatusScheduled, models.PostStatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPublishedFromGuardsPublishedAt(t *testing.T) {
	repo, mock := newMockPostRepo(t)

	mock.ExpectExec("UPDATE posts").
		WithArgs(models.PostStatusPublished, sqlmock.AnyArg(), int64(1), models.PostStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE posts").
		WithArgs(models.PostStatusPublished, sqlmock.AnyArg(), int64(1), models.PostStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkPublishedFrom(context.Background(), 1, models.PostStatusProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second aggregate recompute finds the post already published and does
	// not rewrite published_at.
	ok, err = repo.MarkPublishedFrom(context.Background(), 1, models.PostStatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockPostRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM posts").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	post, err := repo.GetByID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, post)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	repo, mock := newMockPostRepo(t)

	now := time.Now()
	scheduled := now.Add(time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "title", "description", "hashtags", "video_url",
		"video_bytes", "thumbnail_url", "status", "scheduled_at", "published_at",
		"created_at", "updated_at",
	}).AddRow(int64(1), int64(7), "launch", "desc", "{go,dev}", "https://m/v.mp4",
		int64(2048), "", models.PostStatusScheduled, scheduled, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM posts").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	post, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, int64(7), post.UserID)
	assert.Equal(t, []string{"go", "dev"}, []string(post.Hashtags))
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Nil(t, post.PublishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleFrom(t *testing.T) {
	repo, mock := newMockPostRepo(t)

	at := time.Now().Add(time.Hour)
	mock.ExpectExec("UPDATE posts").
		WithArgs(models.PostStatusScheduled, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), models.PostStatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ScheduleFrom(context.Background(), 1, models.PostStatusDraft, &at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
