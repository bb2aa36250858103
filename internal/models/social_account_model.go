package models

import (
	"time"

	"github.com/lib/pq"
)

type SocialAccount struct {
	ID             int64          `db:"id" json:"id"`
	UserID         int64          `db:"user_id" json:"user_id"`
	Platform       string         `db:"platform" json:"platform"`
	PlatformUserID string         `db:"platform_user_id" json:"platform_user_id"`
	Username       string         `db:"username" json:"username"`
	DisplayName    string         `db:"display_name" json:"display_name"`
	ProfilePicture string         `db:"profile_picture_url" json:"profile_picture"`
	AccessToken    string         `db:"access_token" json:"-"`
	RefreshToken   string         `db:"refresh_token" json:"-"`
	TokenExpiresAt time.Time      `db:"token_expires_at" json:"token_expires_at"`
	Scopes         pq.StringArray `db:"scopes" json:"scopes"`
	IsDefault      bool           `db:"is_default" json:"is_default"`
	Status         string         `db:"status" json:"status"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time     `db:"deleted_at" json:"-"`
}

const (
	AccountStatusActive  = "active"
	AccountStatusRevoked = "revoked"
)

const (
	PlatformYoutube   = "youtube"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTiktok    = "tiktok"
	PlatformThreads   = "threads"
)
