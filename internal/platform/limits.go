package platform

import (
	"fmt"

	"postpilot/internal/models"
)

// Limits are per-platform content constraints checked before any network
// call. A violation is a ValidationError, not a platform failure.
type Limits struct {
	MaxTitleLen   int
	MaxCaptionLen int
	MaxHashtags   int
	MaxHashtagLen int
	MaxVideoBytes int64
}

func CheckLimits(post *models.Post, l Limits) error {
	if l.MaxTitleLen > 0 && len(post.Title) > l.MaxTitleLen {
		return &ValidationError{Reason: fmt.Sprintf("title exceeds %d characters", l.MaxTitleLen)}
	}
	if l.MaxCaptionLen > 0 && len(Caption(post)) > l.MaxCaptionLen {
		return &ValidationError{Reason: fmt.Sprintf("caption exceeds %d characters", l.MaxCaptionLen)}
	}
	if l.MaxHashtags > 0 && len(post.Hashtags) > l.MaxHashtags {
		return &ValidationError{Reason: fmt.Sprintf("more than %d hashtags", l.MaxHashtags)}
	}
	if l.MaxHashtagLen > 0 {
		for _, tag := range post.Hashtags {
			if len(tag) > l.MaxHashtagLen {
				return &ValidationError{Reason: fmt.Sprintf("hashtag %q exceeds %d characters", tag, l.MaxHashtagLen)}
			}
		}
	}
	if l.MaxVideoBytes > 0 && post.VideoBytes > l.MaxVideoBytes {
		return &ValidationError{Reason: fmt.Sprintf("video exceeds %d bytes", l.MaxVideoBytes)}
	}
	return nil
}
