package publisher

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/queue"
	"postpilot/internal/ratelimit"
	"postpilot/internal/repository"
)

// TokenSource yields a currently-valid decrypted access token for an account.
type TokenSource interface {
	GetValidToken(ctx context.Context, account *models.SocialAccount) (string, error)
}

// outcome is the terminal classification of one job run.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetryable
	outcomePermanent
)

// scheduleSlack absorbs queue delivery jitter when comparing scheduled_at
// against the clock at execution time.
const scheduleSlack = time.Minute

// Publisher runs one publish job per (post, account) pair. Each run goes
// pending -> calling-platform -> succeeded | retryable-failure |
// permanent-failure, with no suspension points in between; requeues happen
// only at the enqueue boundary.
type Publisher struct {
	posts      repository.PostRepository
	targets    repository.PublishTargetRepository
	accounts   repository.SocialAccountRepository
	adapters   platform.Registry
	tokens     TokenSource
	limiter    ratelimit.Limiter
	enqueuer   queue.Enqueuer
	maxRetries int
	retryDelay time.Duration
}

func New(
	posts repository.PostRepository,
	targets repository.PublishTargetRepository,
	accounts repository.SocialAccountRepository,
	adapters platform.Registry,
	tokens TokenSource,
	limiter ratelimit.Limiter,
	enqueuer queue.Enqueuer,
	maxRetries int,
	retryDelay time.Duration) *Publisher {
	return &Publisher{
		posts:      posts,
		targets:    targets,
		accounts:   accounts,
		adapters:   adapters,
		tokens:     tokens,
		limiter:    limiter,
		enqueuer:   enqueuer,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (p *Publisher) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return p.Publish(ctx, payload.PostID, payload.AccountID)
}

// Publish executes one attempt for one (post, account) pair. It returns a
// non-nil error only on infrastructure failures, so the queue's at-least-once
// redelivery kicks in; domain failures are recorded on the target instead.
func (p *Publisher) Publish(ctx context.Context, postID, accountID int64) error {
	// All state is re-read at execution time; the payload may be arbitrarily
	// stale by the time a delayed task fires.
	post, err := p.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		log.Printf("Post %d no longer exists, dropping publish task", postID)
		return nil
	}

	// Cooperative cancellation: a post edited back to draft or already
	// published is no longer publishable. A failed post keeps running its
	// remaining targets so partial results stay visible per account.
	switch post.Status {
	case models.PostStatusScheduled:
		// A cancel followed by a re-schedule leaves the original delayed task
		// live in the queue. The row's scheduled_at is authoritative; a
		// delivery that arrives well before it is stale and gets dropped.
		if post.ScheduledAt != nil && time.Until(*post.ScheduledAt) > scheduleSlack {
			log.Printf("Post %d is scheduled for %s, dropping early publish task", postID, post.ScheduledAt.Format(time.RFC3339))
			return nil
		}
		if _, err := p.posts.UpdateStatusFrom(ctx, postID, models.PostStatusScheduled, models.PostStatusProcessing); err != nil {
			return err
		}
	case models.PostStatusProcessing, models.PostStatusFailed:
	default:
		log.Printf("Post %d is %s, dropping publish task", postID, post.Status)
		return nil
	}

	target, err := p.targets.Get(ctx, postID, accountID)
	if err != nil {
		return err
	}
	if target == nil {
		log.Printf("No publish target for post=%d account=%d", postID, accountID)
		return nil
	}

	// Claim the target. Loses means another worker is already on it or it
	// reached a terminal state; either way this delivery is done.
	claimed, err := p.targets.MarkProcessing(ctx, postID, accountID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	account, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return p.finish(ctx, post, target, outcomePermanent, "", "account is disconnected")
	}
	if account.Status == models.AccountStatusRevoked {
		return p.finish(ctx, post, target, outcomePermanent, "", "account token is revoked; reconnect the account")
	}

	adapter, ok := p.adapters.Get(account.Platform)
	if !ok {
		return p.finish(ctx, post, target, outcomePermanent, "", "unsupported platform "+account.Platform)
	}

	if err := platform.CheckLimits(post, adapter.Limits()); err != nil {
		return p.finish(ctx, post, target, outcomePermanent, "", err.Error())
	}

	// Local throttle. A denial is not a platform failure, so the target goes
	// back to pending with its retry budget untouched.
	decision, err := p.limiter.TryAcquire(ctx, account.Platform)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		if err := p.targets.Release(ctx, postID, accountID); err != nil {
			return err
		}
		return p.enqueuer.EnqueuePublish(ctx, queue.PublishPayload{PostID: postID, AccountID: accountID}, decision.RetryAfter)
	}

	token, err := p.tokens.GetValidToken(ctx, account)
	if err != nil {
		if platform.IsTokenRefresh(err) {
			return p.finish(ctx, post, target, outcomePermanent, "", err.Error())
		}
		return err
	}

	platformPostID, err := adapter.Publish(ctx, post, account, token)
	if err != nil {
		slog.Info(err.Error())
		if platform.IsRetryable(err) {
			return p.handleRetryable(ctx, post, target, err.Error())
		}
		return p.finish(ctx, post, target, outcomePermanent, "", err.Error())
	}

	return p.finish(ctx, post, target, outcomeSucceeded, platformPostID, "")
}

func (p *Publisher) handleRetryable(ctx context.Context, post *models.Post, target *models.PublishTarget, errMsg string) error {
	// retry_count on the claimed row is the count before this attempt.
	if target.RetryCount+1 >= p.maxRetries {
		return p.finish(ctx, post, target, outcomeRetryable, "", errMsg)
	}

	if err := p.targets.MarkRetry(ctx, post.ID, target.AccountID, errMsg); err != nil {
		return err
	}

	return p.enqueuer.EnqueuePublish(ctx, queue.PublishPayload{PostID: post.ID, AccountID: target.AccountID}, p.retryDelay)
}

func (p *Publisher) finish(ctx context.Context, post *models.Post, target *models.PublishTarget, result outcome, platformPostID, errMsg string) error {
	switch result {
	case outcomeSucceeded:
		if err := p.targets.MarkSucceeded(ctx, post.ID, target.AccountID, platformPostID); err != nil {
			return err
		}
	case outcomeRetryable:
		// The exhausting attempt counts: a target that fails out ends with
		// retry_count equal to the configured maximum.
		if err := p.targets.MarkExhausted(ctx, post.ID, target.AccountID, errMsg); err != nil {
			return err
		}
		log.Printf("Publish failed for post=%d account=%d after %d attempts: %s", post.ID, target.AccountID, p.maxRetries, errMsg)
	default:
		if err := p.targets.MarkFailed(ctx, post.ID, target.AccountID, errMsg); err != nil {
			return err
		}
		log.Printf("Publish failed for post=%d account=%d: %s", post.ID, target.AccountID, errMsg)
	}

	return p.recomputeAggregate(ctx, post.ID)
}

// recomputeAggregate derives the post's status from the current per-account
// results. It is idempotent and order-independent: published only when every
// target succeeded, failed as soon as any target permanently failed.
func (p *Publisher) recomputeAggregate(ctx context.Context, postID int64) error {
	targets, err := p.targets.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}

	succeeded := 0
	failed := 0
	for _, t := range targets {
		switch t.Status {
		case models.TargetStatusSucceeded:
			succeeded++
		case models.TargetStatusFailed:
			failed++
		}
	}

	if failed > 0 {
		if _, err := p.posts.UpdateStatusFrom(ctx, postID, models.PostStatusProcessing, models.PostStatusFailed); err != nil {
			return err
		}
		return nil
	}

	if succeeded == len(targets) && len(targets) > 0 {
		// The CAS guard makes published_at a write-once field even when the
		// last two targets finish at the same moment.
		if _, err := p.posts.MarkPublishedFrom(ctx, postID, models.PostStatusProcessing); err != nil {
			return err
		}
	}

	return nil
}
