package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"postpilot/internal/models"
)

type SocialAccountRepository interface {
	Create(ctx context.Context, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error)
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
	UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error
	SetStatus(ctx context.Context, accountID int64, status string) error
	SetDefault(ctx context.Context, userID, accountID int64, platform string) error
	SoftDelete(ctx context.Context, id int64) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const accountColumns = `id, user_id, platform, platform_user_id, username, display_name, profile_picture_url, access_token, refresh_token, token_expires_at, scopes, is_default, status, created_at, updated_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.PlatformUserID, &sa.Username,
		&sa.DisplayName, &sa.ProfilePicture, &sa.AccessToken, &sa.RefreshToken,
		&sa.TokenExpiresAt, &sa.Scopes, &sa.IsDefault, &sa.Status,
		&sa.CreatedAt, &sa.UpdatedAt, &sa.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

// Create inserts the account. When is_default is requested the previous default
// for the same (user, platform) pair is cleared in the same transaction so the
// at-most-one invariant holds.
func (r *socialAccountRepository) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	defer tx.Rollback()

	if sa.IsDefault {
		clearQuery := `UPDATE social_accounts SET is_default = FALSE, updated_at = $1 WHERE user_id = $2 AND platform = $3 AND is_default = TRUE`
		if _, err := tx.ExecContext(ctx, clearQuery, time.Now(), sa.UserID, sa.Platform); err != nil {
			slog.Info(err.Error())
			return 0, err
		}
	}

	insertQuery := `
		INSERT INTO social_accounts(
			user_id,
			platform,
			platform_user_id,
			username,
			display_name,
			profile_picture_url,
			access_token,
			refresh_token,
			token_expires_at,
			scopes,
			is_default,
			status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	var id int64
	err = tx.QueryRowContext(ctx, insertQuery,
		sa.UserID,
		sa.Platform,
		sa.PlatformUserID,
		sa.Username,
		sa.DisplayName,
		sa.ProfilePicture,
		sa.AccessToken,
		sa.RefreshToken,
		sa.TokenExpiresAt,
		pq.Array(sa.Scopes),
		sa.IsDefault,
		models.AccountStatusActive,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE id = $1 AND deleted_at IS NULL`
	sa, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return sa, nil
}

func (r *socialAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE user_id = $1 AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, sa)
	}
	return accounts, rows.Err()
}

func (r *socialAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM social_accounts
		WHERE token_expires_at < $1
		AND status = $2
		AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, query, before, models.AccountStatusActive)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, sa)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

func (r *socialAccountRepository) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	query := "SELECT 1 FROM social_accounts WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL"

	var result int
	err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *socialAccountRepository) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE social_accounts
		SET access_token = COALESCE(NULLIF($2, ''), access_token),
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, accountID, accessToken, refreshToken, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info("no rows affected; account may not exist")
		return sql.ErrNoRows
	}
	return nil
}

func (r *socialAccountRepository) SetStatus(ctx context.Context, accountID int64, status string) error {
	query := `UPDATE social_accounts SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) SetDefault(ctx context.Context, userID, accountID int64, platform string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	clearQuery := `UPDATE social_accounts SET is_default = FALSE, updated_at = $1 WHERE user_id = $2 AND platform = $3 AND is_default = TRUE`
	if _, err := tx.ExecContext(ctx, clearQuery, time.Now(), userID, platform); err != nil {
		slog.Info(err.Error())
		return err
	}

	setQuery := `UPDATE social_accounts SET is_default = TRUE, updated_at = $1 WHERE id = $2 AND user_id = $3`
	if _, err := tx.ExecContext(ctx, setQuery, time.Now(), accountID, userID); err != nil {
		slog.Info(err.Error())
		return err
	}

	return tx.Commit()
}

func (r *socialAccountRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE social_accounts SET deleted_at = $1, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
