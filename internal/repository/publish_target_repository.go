package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"postpilot/internal/models"
)

type PublishTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, target *models.PublishTarget) error
	Get(ctx context.Context, postID, accountID int64) (*models.PublishTarget, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishTarget, error)
	// MarkProcessing claims the target for a worker. Only one worker can move a
	// pending target to processing; everyone else gets false.
	MarkProcessing(ctx context.Context, postID, accountID int64) (bool, error)
	// Release puts a claimed target back to pending without touching the retry
	// count. Used when the local rate limiter defers the call.
	Release(ctx context.Context, postID, accountID int64) error
	// MarkRetry puts a claimed target back to pending and increments retry_count.
	MarkRetry(ctx context.Context, postID, accountID int64, errMsg string) error
	MarkSucceeded(ctx context.Context, postID, accountID int64, platformPostID string) error
	MarkFailed(ctx context.Context, postID, accountID int64, errMsg string) error
	// MarkExhausted records the retryable failure that consumed the last
	// attempt: failed, with retry_count counting this attempt too.
	MarkExhausted(ctx context.Context, postID, accountID int64, errMsg string) error
	// ResetFailed returns failed targets of a post to pending with a fresh retry
	// budget and reports which accounts were reset. Used by the manual resubmit
	// path.
	ResetFailed(ctx context.Context, postID int64) ([]int64, error)
	RemoveByPostID(ctx context.Context, tx *sql.Tx, postID int64) error
}

type publishTargetRepository struct {
	db *sql.DB
}

func NewPublishTargetRepository(db *sql.DB) PublishTargetRepository {
	return &publishTargetRepository{db: db}
}

const targetColumns = `post_id, account_id, status, platform_post_id, error_message, retry_count, attempted_at, created_at, updated_at`

func scanTarget(row interface{ Scan(...any) error }) (*models.PublishTarget, error) {
	var t models.PublishTarget
	err := row.Scan(&t.PostID, &t.AccountID, &t.Status, &t.PlatformPostID,
		&t.ErrorMessage, &t.RetryCount, &t.AttemptedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *publishTargetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PublishTarget) error {
	query := `
		INSERT INTO publish_targets (post_id, account_id, status)
		VALUES ($1, $2, $3)
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, target.PostID, target.AccountID, models.TargetStatusPending)
	} else {
		_, err = r.db.ExecContext(ctx, query, target.PostID, target.AccountID, models.TargetStatusPending)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTargetRepository) Get(ctx context.Context, postID, accountID int64) (*models.PublishTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM publish_targets WHERE post_id = $1 AND account_id = $2`
	target, err := scanTarget(r.db.QueryRowContext(ctx, query, postID, accountID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return target, nil
}

func (r *publishTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM publish_targets WHERE post_id = $1`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PublishTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (r *publishTargetRepository) MarkProcessing(ctx context.Context, postID, accountID int64) (bool, error) {
	query := `
		UPDATE publish_targets
		SET status = $1,
			attempted_at = $2,
			updated_at = $2
		WHERE post_id = $3 AND account_id = $4 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, models.TargetStatusProcessing, time.Now(), postID, accountID, models.TargetStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *publishTargetRepository) Release(ctx context.Context, postID, accountID int64) error {
	query := `
		UPDATE publish_targets
		SET status = $1,
			updated_at = $2
		WHERE post_id = $3 AND account_id = $4 AND status = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusPending, time.Now(), postID, accountID, models.TargetStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTargetRepository) MarkRetry(ctx context.Context, postID, accountID int64, errMsg string) error {
	query := `
		UPDATE publish_targets
		SET status = $1,
			error_message = $2,
			retry_count = retry_count + 1,
			updated_at = $3
		WHERE post_id = $4 AND account_id = $5 AND status = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusPending, errMsg, time.Now(), postID, accountID, models.TargetStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTargetRepository) MarkSucceeded(ctx context.Context, postID, accountID int64, platformPostID string) error {
	query := `
		UPDATE publish_targets
		SET status = $1,
			platform_post_id = $2,
			error_message = '',
			updated_at = $3
		WHERE post_id = $4 AND account_id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusSucceeded, platformPostID, time.Now(), postID, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTargetRepository) MarkFailed(ctx context.Context, postID, accountID int64, errMsg string) error {
	query := `
		UPDATE publish_targets
		SET status = $1,
			error_message = $2,
			updated_at = $3
		WHERE post_id = $4 AND account_id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusFailed, errMsg, time.Now(), postID, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTargetRepository) MarkExhausted(ctx context.Context, postID, accountID int64, errMsg string) error {
	query := `
		UPDATE publish_targets
		SET status = $1,
			error_message = $2,
			retry_count = retry_count + 1,
			updated_at = $3
		WHERE post_id = $4 AND account_id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusFailed, errMsg, time.Now(), postID, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTargetRepository) ResetFailed(ctx context.Context, postID int64) ([]int64, error) {
	query := `
		UPDATE publish_targets
		SET status = $1,
			error_message = '',
			retry_count = 0,
			updated_at = $2
		WHERE post_id = $3 AND status = $4
		RETURNING account_id
	`
	rows, err := r.db.QueryContext(ctx, query, models.TargetStatusPending, time.Now(), postID, models.TargetStatusFailed)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accountIDs []int64
	for rows.Next() {
		var accountID int64
		if err := rows.Scan(&accountID); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accountIDs = append(accountIDs, accountID)
	}
	return accountIDs, rows.Err()
}

func (r *publishTargetRepository) RemoveByPostID(ctx context.Context, tx *sql.Tx, postID int64) error {
	query := `DELETE FROM publish_targets WHERE post_id = $1`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, postID)
	} else {
		_, err = r.db.ExecContext(ctx, query, postID)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
