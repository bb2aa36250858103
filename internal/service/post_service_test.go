package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/queue"
	"postpilot/internal/transfer"
)

type fakePostRepo struct {
	mu    sync.Mutex
	posts map[int64]*models.Post
	next  int64
}

func newFakePostRepo(posts ...*models.Post) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[int64]*models.Post), next: 100}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	post.ID = r.next
	r.posts[post.ID] = post
	return post.ID, nil
}

func (r *fakePostRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePostRepo) Update(ctx context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[post.ID] = post
	return nil
}

func (r *fakePostRepo) UpdateStatusFrom(ctx context.Context, postID int64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (r *fakePostRepo) ScheduleFrom(ctx context.Context, postID int64, from string, at *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = models.PostStatusScheduled
	p.ScheduledAt = at
	return true, nil
}

func (r *fakePostRepo) MarkPublishedFrom(ctx context.Context, postID int64, from string) (bool, error) {
	return false, nil
}

func (r *fakePostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	return ok && p.UserID == userID, nil
}

func (r *fakePostRepo) Remove(ctx context.Context, tx *sql.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, id)
	return nil
}

type fakeTargetRepo struct {
	mu      sync.Mutex
	targets []*models.PublishTarget
}

func (r *fakeTargetRepo) Create(ctx context.Context, tx *sql.Tx, target *models.PublishTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	return nil
}

func (r *fakeTargetRepo) Get(ctx context.Context, postID, accountID int64) (*models.PublishTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets {
		if t.PostID == postID && t.AccountID == accountID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PublishTarget
	for _, t := range r.targets {
		if t.PostID == postID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTargetRepo) MarkProcessing(ctx context.Context, postID, accountID int64) (bool, error) {
	return false, nil
}

func (r *fakeTargetRepo) Release(ctx context.Context, postID, accountID int64) error { return nil }

func (r *fakeTargetRepo) MarkRetry(ctx context.Context, postID, accountID int64, errMsg string) error {
	return nil
}

func (r *fakeTargetRepo) MarkSucceeded(ctx context.Context, postID, accountID int64, platformPostID string) error {
	return nil
}

func (r *fakeTargetRepo) MarkFailed(ctx context.Context, postID, accountID int64, errMsg string) error {
	return nil
}

func (r *fakeTargetRepo) MarkExhausted(ctx context.Context, postID, accountID int64, errMsg string) error {
	return nil
}

func (r *fakeTargetRepo) ResetFailed(ctx context.Context, postID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, t := range r.targets {
		if t.PostID == postID && t.Status == models.TargetStatusFailed {
			t.Status = models.TargetStatusPending
			t.RetryCount = 0
			out = append(out, t.AccountID)
		}
	}
	return out, nil
}

func (r *fakeTargetRepo) RemoveByPostID(ctx context.Context, tx *sql.Tx, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*models.PublishTarget
	for _, t := range r.targets {
		if t.PostID != postID {
			kept = append(kept, t)
		}
	}
	r.targets = kept
	return nil
}

type fakeAccountRepo struct {
	accounts map[int64]*models.SocialAccount
}

func (r *fakeAccountRepo) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	return 0, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	_, ok := r.accounts[accountID]
	return ok, nil
}

func (r *fakeAccountRepo) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (r *fakeAccountRepo) SetStatus(ctx context.Context, accountID int64, status string) error {
	return nil
}

func (r *fakeAccountRepo) SetDefault(ctx context.Context, userID, accountID int64, platform string) error {
	return nil
}

func (r *fakeAccountRepo) SoftDelete(ctx context.Context, id int64) error { return nil }

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.PublishPayload
	delays   []time.Duration
}

func (f *fakeEnqueuer) EnqueuePublish(ctx context.Context, payload queue.PublishPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	f.delays = append(f.delays, delay)
	return nil
}

type fakeAdapter struct {
	platformName string
	limits       platform.Limits
}

func (a *fakeAdapter) Platform() string            { return a.platformName }
func (a *fakeAdapter) AuthURL(state string) string { return "" }

func (a *fakeAdapter) ExchangeCode(ctx context.Context, code string) (*platform.Token, *platform.AccountInfo, error) {
	return nil, nil, errors.New("not implemented")
}

func (a *fakeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*platform.Token, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	return "", errors.New("not implemented")
}

func (a *fakeAdapter) Limits() platform.Limits { return a.limits }

type postServiceFixture struct {
	db       *sql.DB
	dbMock   sqlmock.Sqlmock
	posts    *fakePostRepo
	targets  *fakeTargetRepo
	accounts *fakeAccountRepo
	enqueuer *fakeEnqueuer
	svc      PostService
}

func publishingDefaults() config.Publishing {
	return config.Publishing{
		MaxRetries:    3,
		RetryDelay:    2 * time.Minute,
		MaxVideoBytes: 1 << 30,
	}
}

func newPostServiceFixture(t *testing.T, posts ...*models.Post) *postServiceFixture {
	t.Helper()

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	adapter := &fakeAdapter{
		platformName: models.PlatformThreads,
		limits:       platform.Limits{MaxCaptionLen: 500, MaxHashtags: 10, MaxHashtagLen: 50},
	}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		10: {ID: 10, UserID: 7, Platform: models.PlatformThreads, Status: models.AccountStatusActive},
		11: {ID: 11, UserID: 7, Platform: models.PlatformThreads, Status: models.AccountStatusActive},
	}}

	f := &postServiceFixture{
		db:       db,
		dbMock:   dbMock,
		posts:    newFakePostRepo(posts...),
		targets:  &fakeTargetRepo{},
		accounts: accounts,
		enqueuer: &fakeEnqueuer{},
	}
	f.svc = NewPostService(db, f.posts, f.targets, accounts,
		platform.NewRegistry(adapter), f.enqueuer, publishingDefaults())
	return f
}

func validCreation() *transfer.PostCreation {
	return &transfer.PostCreation{
		Title:       "weekly update",
		Description: "what changed this week",
		Hashtags:    []string{"update", "weekly"},
		VideoURL:    "https://media.example.com/clip.mp4",
		VideoBytes:  10 * 1024 * 1024,
		AccountIDs:  []int64{10, 11},
	}
}

func TestCreateDraft(t *testing.T) {
	f := newPostServiceFixture(t)
	f.dbMock.ExpectBegin()
	f.dbMock.ExpectCommit()

	postID, err := f.svc.Create(context.Background(), 7, validCreation())
	require.NoError(t, err)
	require.NotZero(t, postID)

	post, err := f.posts.GetByID(context.Background(), postID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusDraft, post.Status)

	targets, err := f.targets.ListByPostID(context.Background(), postID)
	require.NoError(t, err)
	assert.Len(t, targets, 2)
	require.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(pc *transfer.PostCreation)
	}{
		{"empty title", func(pc *transfer.PostCreation) { pc.Title = "" }},
		{"title too long", func(pc *transfer.PostCreation) { pc.Title = strings.Repeat("t", 256) }},
		{"description too long", func(pc *transfer.PostCreation) { pc.Description = strings.Repeat("d", 5001) }},
		{"too many hashtags", func(pc *transfer.PostCreation) {
			pc.Hashtags = make([]string, 31)
			for i := range pc.Hashtags {
				pc.Hashtags[i] = "tag"
			}
		}},
		{"hashtag with symbols", func(pc *transfer.PostCreation) { pc.Hashtags = []string{"no spaces!"} }},
		{"unsupported video format", func(pc *transfer.PostCreation) { pc.VideoURL = "https://media.example.com/clip.gif" }},
		{"video too large", func(pc *transfer.PostCreation) { pc.VideoBytes = 2 << 30 }},
		{"no accounts", func(pc *transfer.PostCreation) { pc.AccountIDs = nil }},
		{"duplicate accounts", func(pc *transfer.PostCreation) { pc.AccountIDs = []int64{10, 10} }},
		{"unknown account", func(pc *transfer.PostCreation) { pc.AccountIDs = []int64{999} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostServiceFixture(t)
			pc := validCreation()
			tt.mutate(pc)

			_, err := f.svc.Create(context.Background(), 7, pc)
			assert.Error(t, err)
		})
	}
}

func TestPublishNowEnqueuesAllTargets(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusDraft}
	f := newPostServiceFixture(t, post)
	f.targets.targets = []*models.PublishTarget{
		{PostID: 1, AccountID: 10, Status: models.TargetStatusPending},
		{PostID: 1, AccountID: 11, Status: models.TargetStatusPending},
	}

	require.NoError(t, f.svc.PublishNow(context.Background(), 7, 1))

	updated, _ := f.posts.GetByID(context.Background(), 1)
	assert.Equal(t, models.PostStatusScheduled, updated.Status)
	require.Len(t, f.enqueuer.payloads, 2)
	assert.Equal(t, time.Duration(0), f.enqueuer.delays[0])
}

func TestScheduleRequiresFutureTime(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusDraft}
	f := newPostServiceFixture(t, post)

	err := f.svc.Schedule(context.Background(), 7, 1, time.Now().Add(-time.Minute))
	assert.Error(t, err)
	assert.Empty(t, f.enqueuer.payloads)
}

func TestScheduleSetsDelay(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusDraft}
	f := newPostServiceFixture(t, post)
	f.targets.targets = []*models.PublishTarget{
		{PostID: 1, AccountID: 10, Status: models.TargetStatusPending},
	}

	at := time.Now().Add(time.Hour)
	require.NoError(t, f.svc.Schedule(context.Background(), 7, 1, at))

	updated, _ := f.posts.GetByID(context.Background(), 1)
	assert.Equal(t, models.PostStatusScheduled, updated.Status)
	require.NotNil(t, updated.ScheduledAt)
	require.Len(t, f.enqueuer.delays, 1)
	assert.InDelta(t, time.Hour.Seconds(), f.enqueuer.delays[0].Seconds(), 5)
}

func TestSubmitRejectsOversizedCaptionForTarget(t *testing.T) {
	// Fits global ceilings but breaks the platform's tighter hashtag limit.
	post := &models.Post{
		ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1,
		Hashtags: []string{strings.Repeat("x", 51)},
		Status:   models.PostStatusDraft,
	}
	f := newPostServiceFixture(t, post)
	f.targets.targets = []*models.PublishTarget{
		{PostID: 1, AccountID: 10, Status: models.TargetStatusPending},
	}

	err := f.svc.PublishNow(context.Background(), 7, 1)
	require.Error(t, err)
	assert.Empty(t, f.enqueuer.payloads)

	updated, _ := f.posts.GetByID(context.Background(), 1)
	assert.Equal(t, models.PostStatusDraft, updated.Status)
}

func TestSubmitOnlyDrafts(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusPublished}
	f := newPostServiceFixture(t, post)

	err := f.svc.PublishNow(context.Background(), 7, 1)
	assert.Error(t, err)
}

func TestUpdateOnlyDrafts(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusScheduled}
	f := newPostServiceFixture(t, post)

	err := f.svc.Update(context.Background(), 7, 1, validCreation())
	assert.Error(t, err)
}

func TestCancelReturnsToDraft(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusScheduled}
	f := newPostServiceFixture(t, post)

	require.NoError(t, f.svc.Cancel(context.Background(), 7, 1))

	updated, _ := f.posts.GetByID(context.Background(), 1)
	assert.Equal(t, models.PostStatusDraft, updated.Status)
}

func TestRetryResubmitsFailedTargets(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusFailed}
	f := newPostServiceFixture(t, post)
	f.targets.targets = []*models.PublishTarget{
		{PostID: 1, AccountID: 10, Status: models.TargetStatusSucceeded, PlatformPostID: "remote-1"},
		{PostID: 1, AccountID: 11, Status: models.TargetStatusFailed, RetryCount: 3},
	}

	require.NoError(t, f.svc.Retry(context.Background(), 7, 1))

	updated, _ := f.posts.GetByID(context.Background(), 1)
	assert.Equal(t, models.PostStatusScheduled, updated.Status)

	// Only the failed target is requeued; the succeeded one keeps its result.
	require.Len(t, f.enqueuer.payloads, 1)
	assert.Equal(t, int64(11), f.enqueuer.payloads[0].AccountID)

	reset, _ := f.targets.Get(context.Background(), 1, 11)
	assert.Equal(t, models.TargetStatusPending, reset.Status)
	assert.Equal(t, 0, reset.RetryCount)

	kept, _ := f.targets.Get(context.Background(), 1, 10)
	assert.Equal(t, models.TargetStatusSucceeded, kept.Status)
}

func TestRemovePublishedForbidden(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusPublished}
	f := newPostServiceFixture(t, post)

	err := f.svc.Remove(context.Background(), 7, 1)
	assert.Error(t, err)
}

func TestRemoveDraft(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusDraft}
	f := newPostServiceFixture(t, post)
	f.dbMock.ExpectBegin()
	f.dbMock.ExpectCommit()

	require.NoError(t, f.svc.Remove(context.Background(), 7, 1))

	gone, _ := f.posts.GetByID(context.Background(), 1)
	assert.Nil(t, gone)
	require.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestPostInfoReturnsTargets(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusPublished}
	f := newPostServiceFixture(t, post)
	f.targets.targets = []*models.PublishTarget{
		{PostID: 1, AccountID: 10, Status: models.TargetStatusSucceeded},
	}

	got, targets, err := f.svc.PostInfo(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, post.ID, got.ID)
	assert.Len(t, targets, 1)
}

func TestPostInfoWrongUser(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7, Title: "t", VideoURL: "v.mp4", VideoBytes: 1, Status: models.PostStatusDraft}
	f := newPostServiceFixture(t, post)

	_, _, err := f.svc.PostInfo(context.Background(), 1, 99)
	assert.Error(t, err)
}
