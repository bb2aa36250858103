package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/internal/transfer"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".wmv": {}, ".webm": {}, ".mkv": {}, ".flv": {},
}

type PostService interface {
	Create(ctx context.Context, userID int64, pc *transfer.PostCreation) (int64, error)
	Update(ctx context.Context, userID, postID int64, pc *transfer.PostCreation) error
	PublishNow(ctx context.Context, userID, postID int64) error
	Schedule(ctx context.Context, userID, postID int64, scheduledAt time.Time) error
	Cancel(ctx context.Context, userID, postID int64) error
	Retry(ctx context.Context, userID, postID int64) error
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, []*models.PublishTarget, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db       *sql.DB
	pr       repository.PostRepository
	pt       repository.PublishTargetRepository
	ac       repository.SocialAccountRepository
	adapters platform.Registry
	enqueuer queue.Enqueuer
	cfg      config.Publishing
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	pt repository.PublishTargetRepository,
	ac repository.SocialAccountRepository,
	adapters platform.Registry,
	enqueuer queue.Enqueuer,
	cfg config.Publishing) PostService {
	return &postService{
		db:       db,
		pr:       pr,
		pt:       pt,
		ac:       ac,
		adapters: adapters,
		enqueuer: enqueuer,
		cfg:      cfg,
	}
}

// Create stores a draft together with its publish targets. The draft is inert
// until PublishNow or Schedule moves it into the pipeline.
func (s *postService) Create(ctx context.Context, userID int64, pc *transfer.PostCreation) (int64, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, err
	}

	if err := s.validateContent(pc); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	accounts, err := s.resolveAccounts(ctx, userID, pc.AccountIDs)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:       userID,
		Title:        pc.Title,
		Description:  pc.Description,
		Hashtags:     pc.Hashtags,
		VideoURL:     pc.VideoURL,
		VideoBytes:   pc.VideoBytes,
		ThumbnailURL: pc.ThumbnailURL,
		Status:       models.PostStatusDraft,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}

	for _, account := range accounts {
		target := models.PublishTarget{
			PostID:    postID,
			AccountID: account.ID,
			Status:    models.TargetStatusPending,
		}
		if err = s.pt.Create(ctx, tx, &target); err != nil {
			return 0, fmt.Errorf("error saving publish target %d: %w", account.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, nil
}

// Update edits a draft in place. Once a post has left draft its content is
// frozen; Cancel brings a scheduled post back to editable.
func (s *postService) Update(ctx context.Context, userID, postID int64, pc *transfer.PostCreation) error {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if post.Status != models.PostStatusDraft {
		err = fmt.Errorf("post is %s and can no longer be edited", post.Status)
		slog.Info(err.Error())
		return err
	}

	if err := s.validateContent(pc); err != nil {
		slog.Info(err.Error())
		return err
	}

	post.Title = pc.Title
	post.Description = pc.Description
	post.Hashtags = pc.Hashtags
	post.VideoURL = pc.VideoURL
	post.VideoBytes = pc.VideoBytes
	post.ThumbnailURL = pc.ThumbnailURL

	if err := s.pr.Update(ctx, post); err != nil {
		return fmt.Errorf("error updating post: %w", err)
	}

	return nil
}

func (s *postService) PublishNow(ctx context.Context, userID, postID int64) error {
	return s.submit(ctx, userID, postID, nil)
}

func (s *postService) Schedule(ctx context.Context, userID, postID int64, scheduledAt time.Time) error {
	if !scheduledAt.After(time.Now()) {
		err := errors.New("scheduled time must be in the future")
		slog.Info(err.Error())
		return err
	}
	return s.submit(ctx, userID, postID, &scheduledAt)
}

// submit moves a draft to scheduled and enqueues one job per target. Per-account
// limits are checked up front so an oversized caption is rejected at submit
// time, not discovered worker-side hours later.
func (s *postService) submit(ctx context.Context, userID, postID int64, scheduledAt *time.Time) error {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if post.Status != models.PostStatusDraft {
		err = fmt.Errorf("post is %s, only drafts can be submitted", post.Status)
		slog.Info(err.Error())
		return err
	}

	targets, err := s.pt.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		err = errors.New("post has no publish targets")
		slog.Info(err.Error())
		return err
	}

	for _, target := range targets {
		account, err := s.ac.GetByID(ctx, target.AccountID)
		if err != nil {
			return err
		}
		if account == nil || account.Status != models.AccountStatusActive {
			err = fmt.Errorf("account %d is not connected", target.AccountID)
			slog.Info(err.Error())
			return err
		}

		adapter, ok := s.adapters.Get(account.Platform)
		if !ok {
			err = fmt.Errorf("unsupported platform %s", account.Platform)
			slog.Info(err.Error())
			return err
		}
		if verr := platform.CheckLimits(post, adapter.Limits()); verr != nil {
			slog.Info(verr.Error())
			return fmt.Errorf("%s: %w", account.Platform, verr)
		}
	}

	ok, err := s.pr.ScheduleFrom(ctx, postID, models.PostStatusDraft, scheduledAt)
	if err != nil {
		return err
	}
	if !ok {
		err = errors.New("post was submitted concurrently")
		slog.Info(err.Error())
		return err
	}

	var delay time.Duration
	if scheduledAt != nil {
		delay = time.Until(*scheduledAt)
	}

	for _, target := range targets {
		payload := queue.PublishPayload{PostID: postID, AccountID: target.AccountID}
		if err := s.enqueuer.EnqueuePublish(ctx, payload, delay); err != nil {
			return fmt.Errorf("error enqueueing publish job: %w", err)
		}
	}

	return nil
}

// Cancel returns a scheduled post to draft. Workers re-check post status before
// claiming a target, so the already-enqueued jobs drop themselves on delivery.
func (s *postService) Cancel(ctx context.Context, userID, postID int64) error {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if post.Status != models.PostStatusScheduled {
		err = fmt.Errorf("post is %s, only scheduled posts can be cancelled", post.Status)
		slog.Info(err.Error())
		return err
	}

	ok, err := s.pr.UpdateStatusFrom(ctx, postID, models.PostStatusScheduled, models.PostStatusDraft)
	if err != nil {
		return err
	}
	if !ok {
		err = errors.New("post already started processing")
		slog.Info(err.Error())
		return err
	}

	return nil
}

// Retry resubmits a failed post. Succeeded targets keep their results; failed
// targets get a fresh retry budget.
func (s *postService) Retry(ctx context.Context, userID, postID int64) error {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if post.Status != models.PostStatusFailed {
		err = fmt.Errorf("post is %s, only failed posts can be retried", post.Status)
		slog.Info(err.Error())
		return err
	}

	reset, err := s.pt.ResetFailed(ctx, postID)
	if err != nil {
		return err
	}
	if len(reset) == 0 {
		err = errors.New("post has no failed targets to retry")
		slog.Info(err.Error())
		return err
	}

	ok, err := s.pr.UpdateStatusFrom(ctx, postID, models.PostStatusFailed, models.PostStatusScheduled)
	if err != nil {
		return err
	}
	if !ok {
		err = errors.New("post was retried concurrently")
		slog.Info(err.Error())
		return err
	}

	for _, accountID := range reset {
		payload := queue.PublishPayload{PostID: postID, AccountID: accountID}
		if err := s.enqueuer.EnqueuePublish(ctx, payload, 0); err != nil {
			return fmt.Errorf("error enqueueing retry job: %w", err)
		}
	}

	return nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, []*models.PublishTarget, error) {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, nil, err
	}

	targets, err := s.pt.ListByPostID(ctx, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting publish targets: %w", err)
	}

	return post, targets, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	return posts, nil
}

// Remove deletes a post that never reached a platform. Published posts stay:
// the stored platform post ids are the only record of what went out.
func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if post.Status == models.PostStatusPublished {
		err = errors.New("published posts cannot be deleted")
		slog.Info(err.Error())
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.pt.RemoveByPostID(ctx, tx, postID); err != nil {
		return fmt.Errorf("error removing publish targets: %w", err)
	}
	if err = s.pr.Remove(ctx, tx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *postService) ownedPost(ctx context.Context, userID, postID int64) (*models.Post, error) {
	if userID == 0 {
		err := errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}
	if postID == 0 {
		err := errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post: %w", err)
	}
	if post == nil {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	return post, nil
}

// validateContent enforces the platform-independent ceilings. Per-platform
// limits are tighter and checked against each target's adapter at submit time.
func (s *postService) validateContent(pc *transfer.PostCreation) error {
	if pc.Title == "" {
		return errors.New("title cannot be empty")
	}
	if len(pc.Title) > 255 {
		return errors.New("title exceeds 255 characters")
	}
	if len(pc.Description) > 5000 {
		return errors.New("description exceeds 5000 characters")
	}
	if len(pc.Hashtags) > 30 {
		return errors.New("too many hashtags, maximum is 30")
	}
	for _, tag := range pc.Hashtags {
		if tag == "" {
			return errors.New("hashtag cannot be empty")
		}
		if len(tag) > 100 {
			return fmt.Errorf("hashtag %q is too long", tag)
		}
		for _, r := range tag {
			if !isHashtagRune(r) {
				return fmt.Errorf("hashtag %q contains invalid characters", tag)
			}
		}
	}

	if pc.VideoURL == "" {
		return errors.New("video url cannot be empty")
	}
	ext := strings.ToLower(path.Ext(pc.VideoURL))
	if _, ok := videoExtensions[ext]; !ok {
		return fmt.Errorf("video format %s is not supported", ext)
	}
	if pc.VideoBytes <= 0 {
		return errors.New("video size must be known")
	}
	if pc.VideoBytes > s.cfg.MaxVideoBytes {
		return errors.New("video exceeds the maximum allowed size")
	}

	return nil
}

func isHashtagRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	}
	return false
}

// resolveAccounts checks ownership and connection state for every requested
// account and rejects duplicates.
func (s *postService) resolveAccounts(ctx context.Context, userID int64, accountIDs []int64) ([]*models.SocialAccount, error) {
	if len(accountIDs) == 0 {
		return nil, errors.New("no social accounts selected")
	}

	seen := make(map[int64]struct{}, len(accountIDs))
	accounts := make([]*models.SocialAccount, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		if _, dup := seen[accountID]; dup {
			return nil, fmt.Errorf("account %d selected more than once", accountID)
		}
		seen[accountID] = struct{}{}

		exists, err := s.ac.CheckByUserID(ctx, accountID, userID)
		if err != nil {
			return nil, fmt.Errorf("error checking social account %d: %w", accountID, err)
		}
		if !exists {
			return nil, fmt.Errorf("social account %d does not exist", accountID)
		}

		account, err := s.ac.GetByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if account == nil || account.Status != models.AccountStatusActive {
			return nil, fmt.Errorf("social account %d is not connected", accountID)
		}

		accounts = append(accounts, account)
	}

	return accounts, nil
}
