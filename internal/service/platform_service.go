package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
	"postpilot/pkg/utils"
)

type PlatformService interface {
	GetAuthURL(ctx context.Context, platformName, state string) string
	ConnectCallback(ctx context.Context, userID int64, platformName, code string) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	SetDefault(ctx context.Context, userID, accountID int64) error
	Delete(ctx context.Context, userID, accountID int64) error
}

type platformService struct {
	cfg      config.Config
	sa       repository.SocialAccountRepository
	adapters platform.Registry
}

func NewPlatformService(cfg config.Config, sa repository.SocialAccountRepository, adapters platform.Registry) PlatformService {
	return &platformService{
		cfg:      cfg,
		sa:       sa,
		adapters: adapters,
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, platformName, state string) string {
	adapter, ok := s.adapters.Get(platformName)
	if !ok {
		return ""
	}
	return adapter.AuthURL(state)
}

// ConnectCallback finishes the OAuth dance: exchanges the code, encrypts both
// tokens at rest, and stores the account. The first account on a platform
// becomes the user's default for it.
func (s *platformService) ConnectCallback(ctx context.Context, userID int64, platformName, code string) (int64, error) {
	adapter, ok := s.adapters.Get(platformName)
	if !ok {
		err := fmt.Errorf("unsupported platform %s", platformName)
		slog.Info(err.Error())
		return 0, err
	}

	token, info, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		return 0, err
	}

	secret := []byte(s.cfg.SecretKey)
	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), secret)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	encryptedRefresh, err := utils.Encrypt([]byte(token.RefreshToken), secret)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	existing, err := s.sa.ListByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	isDefault := true
	for _, acc := range existing {
		if acc.Platform == platformName {
			isDefault = false
			break
		}
	}

	account := models.SocialAccount{
		UserID:         userID,
		Platform:       platformName,
		PlatformUserID: info.PlatformUserID,
		Username:       info.Username,
		DisplayName:    info.DisplayName,
		ProfilePicture: info.ProfilePicture,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenExpiresAt: token.ExpiresAt,
		Scopes:         info.Scopes,
		IsDefault:      isDefault,
		Status:         models.AccountStatusActive,
	}

	accountID, err := s.sa.Create(ctx, &account)
	if err != nil {
		return 0, fmt.Errorf("error saving social account: %w", err)
	}

	return accountID, nil
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		err := errors.New("user id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting social accounts")
	}

	return accounts, nil
}

func (s *platformService) SetDefault(ctx context.Context, userID, accountID int64) error {
	account, err := s.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}

	return s.sa.SetDefault(ctx, userID, accountID, account.Platform)
}

// Delete disconnects the account. Revocation at the platform is best effort;
// the local record is soft-deleted either way so history stays intact.
func (s *platformService) Delete(ctx context.Context, userID, accountID int64) error {
	account, err := s.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}

	decryptedAccessToken, err := utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
	} else {
		switch account.Platform {
		case models.PlatformTiktok:
			if err := platform.RevokeTiktokAccess(account.PlatformUserID, decryptedAccessToken); err != nil {
				slog.Info(err.Error())
			}
		case models.PlatformYoutube:
			if err := platform.RevokeGoogleAccess(decryptedAccessToken); err != nil {
				slog.Info(err.Error())
			}
		}
	}

	err = s.sa.SoftDelete(ctx, accountID)
	if err != nil {
		return fmt.Errorf("error removing account info")
	}

	return nil
}

func (s *platformService) ownedAccount(ctx context.Context, userID, accountID int64) (*models.SocialAccount, error) {
	if userID == 0 {
		err := errors.New("user id is not valid")
		slog.Info(err.Error())
		return nil, err
	}
	if accountID == 0 {
		err := errors.New("account id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("social account doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	account, err := s.sa.GetByID(ctx, accountID)
	if err != nil || account == nil {
		return nil, fmt.Errorf("unable to get social account info")
	}

	return account, nil
}
