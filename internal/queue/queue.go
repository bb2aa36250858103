package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const TaskTypePublish = "publish:post"

// PublishPayload carries identifiers only; all mutable state is re-read from
// storage when the job runs.
type PublishPayload struct {
	PostID    int64 `json:"post_id"`
	AccountID int64 `json:"account_id"`
}

// Enqueuer schedules publish jobs, immediately or after a delay.
type Enqueuer interface {
	EnqueuePublish(ctx context.Context, payload PublishPayload, delay time.Duration) error
}

type asynqEnqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &asynqEnqueuer{client: client}
}

func (q *asynqEnqueuer) EnqueuePublish(ctx context.Context, payload PublishPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublish, taskPayload)

	if delay < 0 {
		delay = 0
	}

	if _, err := q.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay)); err != nil {
		return err
	}

	log.Printf("Publish task enqueued: post=%d account=%d delay=%s", payload.PostID, payload.AccountID, delay)
	return nil
}
