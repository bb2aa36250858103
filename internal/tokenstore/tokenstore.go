package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
	"postpilot/pkg/utils"
)

// TokenStore hands adapters a currently-valid access token, refreshing through
// the platform when the stored token is within the safety margin of expiry.
type TokenStore struct {
	sa       repository.SocialAccountRepository
	adapters platform.Registry
	secret   []byte
	margin   time.Duration
	group    singleflight.Group
}

func New(sa repository.SocialAccountRepository, adapters platform.Registry, secret []byte, margin time.Duration) *TokenStore {
	return &TokenStore{
		sa:       sa,
		adapters: adapters,
		secret:   secret,
		margin:   margin,
	}
}

// GetValidToken returns a decrypted access token for the account. Concurrent
// callers for the same near-expiry account share one refresh call: most
// platforms invalidate the previous refresh token on each exchange, so a
// duplicate refresh would revoke the token the first caller just obtained.
func (s *TokenStore) GetValidToken(ctx context.Context, account *models.SocialAccount) (string, error) {
	if account.Status == models.AccountStatusRevoked {
		return "", &platform.TokenRefreshError{Platform: account.Platform, Err: fmt.Errorf("account %d is revoked", account.ID)}
	}

	if time.Until(account.TokenExpiresAt) > s.margin {
		return utils.Decrypt(account.AccessToken, s.secret)
	}

	key := fmt.Sprintf("refresh:%d", account.ID)
	token, err, _ := s.group.Do(key, func() (any, error) {
		return s.refresh(ctx, account)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

func (s *TokenStore) refresh(ctx context.Context, account *models.SocialAccount) (string, error) {
	adapter, ok := s.adapters.Get(account.Platform)
	if !ok {
		return "", fmt.Errorf("no adapter for platform %s", account.Platform)
	}

	refreshToken, err := utils.Decrypt(account.RefreshToken, s.secret)
	if err != nil {
		return "", err
	}

	token, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		// A rejected refresh grant means the connection is dead; flag the
		// account so future jobs short-circuit instead of retrying.
		if platform.IsTokenRefresh(err) {
			if serr := s.sa.SetStatus(ctx, account.ID, models.AccountStatusRevoked); serr != nil {
				slog.Info(serr.Error())
			}
			account.Status = models.AccountStatusRevoked
		}
		return "", err
	}

	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), s.secret)
	if err != nil {
		return "", err
	}

	encryptedRefresh := ""
	if token.RefreshToken != "" {
		encryptedRefresh, err = utils.Encrypt([]byte(token.RefreshToken), s.secret)
		if err != nil {
			return "", err
		}
	}

	if err := s.sa.UpdateTokens(ctx, account.ID, encryptedAccess, encryptedRefresh, token.ExpiresAt); err != nil {
		return "", err
	}

	account.AccessToken = encryptedAccess
	if encryptedRefresh != "" {
		account.RefreshToken = encryptedRefresh
	}
	account.TokenExpiresAt = token.ExpiresAt

	return token.AccessToken, nil
}
