package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"postpilot/internal/models"
	"postpilot/internal/repository"
	"postpilot/internal/tokenstore"
)

// TokenRefreshJob proactively refreshes tokens approaching expiry so publish
// jobs rarely pay the refresh round-trip on the hot path.
type TokenRefreshJob struct {
	sr repository.SocialAccountRepository
	ts *tokenstore.TokenStore
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, ts *tokenstore.TokenStore) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr: sr,
		ts: ts,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	accounts, err := c.sr.ListExpiring(ctx, time.Now().Add(30*time.Minute))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := c.ts.GetValidToken(ctx, acc); err != nil {
				slog.Info("Unable to refresh tokens for " + acc.Platform)
			}
		}(acc)
	}

	wg.Wait()
}
