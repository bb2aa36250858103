package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/pkg/utils"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeAccountRepo struct {
	mu       sync.Mutex
	statuses map[int64]string
	updates  int
}

func (r *fakeAccountRepo) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	return 0, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	return true, nil
}

func (r *fakeAccountRepo) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return nil
}

func (r *fakeAccountRepo) SetStatus(ctx context.Context, accountID int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[int64]string)
	}
	r.statuses[accountID] = status
	return nil
}

func (r *fakeAccountRepo) SetDefault(ctx context.Context, userID, accountID int64, platform string) error {
	return nil
}

func (r *fakeAccountRepo) SoftDelete(ctx context.Context, id int64) error {
	return nil
}

type fakeAdapter struct {
	mu        sync.Mutex
	refreshes int
	delay     time.Duration
	err       error
}

func (a *fakeAdapter) Platform() string            { return models.PlatformTiktok }
func (a *fakeAdapter) AuthURL(state string) string { return "" }

func (a *fakeAdapter) ExchangeCode(ctx context.Context, code string) (*platform.Token, *platform.AccountInfo, error) {
	return nil, nil, errors.New("not implemented")
}

func (a *fakeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*platform.Token, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	a.refreshes++
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &platform.Token{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}, nil
}

func (a *fakeAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	return "", errors.New("not implemented")
}

func (a *fakeAdapter) Limits() platform.Limits { return platform.Limits{} }

func (a *fakeAdapter) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}

func encrypted(t *testing.T, plaintext string) string {
	t.Helper()
	out, err := utils.Encrypt([]byte(plaintext), testSecret)
	require.NoError(t, err)
	return out
}

func testAccount(t *testing.T, expiresAt time.Time) *models.SocialAccount {
	return &models.SocialAccount{
		ID:             42,
		Platform:       models.PlatformTiktok,
		AccessToken:    encrypted(t, "stored-access"),
		RefreshToken:   encrypted(t, "stored-refresh"),
		TokenExpiresAt: expiresAt,
		Status:         models.AccountStatusActive,
	}
}

func TestGetValidTokenFreshToken(t *testing.T) {
	repo := &fakeAccountRepo{}
	adapter := &fakeAdapter{}
	store := New(repo, platform.NewRegistry(adapter), testSecret, 5*time.Minute)

	account := testAccount(t, time.Now().Add(time.Hour))

	token, err := store.GetValidToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Equal(t, 0, adapter.refreshCount())
}

func TestGetValidTokenRefreshesNearExpiry(t *testing.T) {
	repo := &fakeAccountRepo{}
	adapter := &fakeAdapter{}
	store := New(repo, platform.NewRegistry(adapter), testSecret, 5*time.Minute)

	// Expiry inside the margin forces a refresh even though the token has not
	// expired yet.
	account := testAccount(t, time.Now().Add(2*time.Minute))

	token, err := store.GetValidToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, 1, adapter.refreshCount())
	assert.Equal(t, 1, repo.updates)

	// The account was mutated in place, so the next call skips the refresh.
	token, err = store.GetValidToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, 1, adapter.refreshCount())
}

func TestGetValidTokenConcurrentRefreshIsShared(t *testing.T) {
	repo := &fakeAccountRepo{}
	adapter := &fakeAdapter{delay: 50 * time.Millisecond}
	store := New(repo, platform.NewRegistry(adapter), testSecret, 5*time.Minute)

	account := testAccount(t, time.Now().Add(time.Minute))

	// Each worker sees its own row scan of the same account, as in production.
	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			own := *account
			token, err := store.GetValidToken(context.Background(), &own)
			assert.NoError(t, err)
			results[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, adapter.refreshCount())
	for _, token := range results {
		assert.Equal(t, "fresh-access", token)
	}
}

func TestGetValidTokenRefreshRejectionRevokes(t *testing.T) {
	repo := &fakeAccountRepo{}
	adapter := &fakeAdapter{}
	adapter.err = &platform.TokenRefreshError{Platform: models.PlatformTiktok, Err: errors.New("invalid_grant")}
	store := New(repo, platform.NewRegistry(adapter), testSecret, 5*time.Minute)

	account := testAccount(t, time.Now().Add(time.Minute))

	_, err := store.GetValidToken(context.Background(), account)
	require.Error(t, err)
	assert.True(t, platform.IsTokenRefresh(err))
	assert.Equal(t, models.AccountStatusRevoked, repo.statuses[42])
	assert.Equal(t, models.AccountStatusRevoked, account.Status)
}

func TestGetValidTokenRevokedAccountFailsFast(t *testing.T) {
	repo := &fakeAccountRepo{}
	adapter := &fakeAdapter{}
	store := New(repo, platform.NewRegistry(adapter), testSecret, 5*time.Minute)

	account := testAccount(t, time.Now().Add(time.Hour))
	account.Status = models.AccountStatusRevoked

	_, err := store.GetValidToken(context.Background(), account)
	require.Error(t, err)
	assert.True(t, platform.IsTokenRefresh(err))
	assert.Equal(t, 0, adapter.refreshCount())
}
