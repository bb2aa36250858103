package models

import (
	"time"

	"github.com/lib/pq"
)

type Post struct {
	ID           int64          `db:"id" json:"id"`
	UserID       int64          `db:"user_id" json:"user_id"`
	Title        string         `db:"title" json:"title"`
	Description  string         `db:"description" json:"description"`
	Hashtags     pq.StringArray `db:"hashtags" json:"hashtags"`
	VideoURL     string         `db:"video_url" json:"video_url"`
	VideoBytes   int64          `db:"video_bytes" json:"video_bytes"`
	ThumbnailURL string         `db:"thumbnail_url" json:"thumbnail_url"`
	Status       string         `db:"status" json:"status"`
	ScheduledAt  *time.Time     `db:"scheduled_at" json:"scheduled_at"`
	PublishedAt  *time.Time     `db:"published_at" json:"published_at"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// PublishTarget is one (post, account) publish attempt. A post targeting N
// accounts has N rows; the post's aggregate status is derived from them.
type PublishTarget struct {
	PostID         int64      `db:"post_id" json:"post_id"`
	AccountID      int64      `db:"account_id" json:"account_id"`
	Status         string     `db:"status" json:"status"`
	PlatformPostID string     `db:"platform_post_id" json:"platform_post_id"`
	ErrorMessage   string     `db:"error_message" json:"error_message"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	AttemptedAt    *time.Time `db:"attempted_at" json:"attempted_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

type MediaAsset struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	FileName  string    `db:"file_name"`
	FileType  string    `db:"file_type"`
	FileSize  int64     `db:"file_size"`
	FileURL   string    `db:"file_url"`
	CreatedAt time.Time `db:"created_at"`
}

const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusProcessing = "processing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
)

const (
	TargetStatusPending    = "pending"
	TargetStatusProcessing = "processing"
	TargetStatusSucceeded  = "succeeded"
	TargetStatusFailed     = "failed"
)
