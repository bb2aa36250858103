package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"postpilot/internal/models"
)

func limitedPost() *models.Post {
	return &models.Post{
		Title:       "short title",
		Description: "a description",
		Hashtags:    []string{"golang", "video"},
		VideoBytes:  1024,
	}
}

func strictLimits() Limits {
	return Limits{
		MaxTitleLen:   100,
		MaxCaptionLen: 200,
		MaxHashtags:   5,
		MaxHashtagLen: 50,
		MaxVideoBytes: 1 << 20,
	}
}

func TestCheckLimitsOK(t *testing.T) {
	assert.NoError(t, CheckLimits(limitedPost(), strictLimits()))
}

func TestCheckLimitsHashtagTooLong(t *testing.T) {
	post := limitedPost()
	post.Hashtags = append(post.Hashtags, strings.Repeat("x", 51))

	err := CheckLimits(post, strictLimits())
	assert.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCheckLimitsTooManyHashtags(t *testing.T) {
	post := limitedPost()
	post.Hashtags = []string{"a", "b", "c", "d", "e", "f"}

	err := CheckLimits(post, strictLimits())
	assert.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCheckLimitsCaptionIncludesHashtags(t *testing.T) {
	post := limitedPost()
	// Description alone fits; hashtags push the rendered caption over.
	post.Description = strings.Repeat("d", 195)

	err := CheckLimits(post, strictLimits())
	assert.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCheckLimitsVideoTooLarge(t *testing.T) {
	post := limitedPost()
	post.VideoBytes = 2 << 20

	err := CheckLimits(post, strictLimits())
	assert.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCheckLimitsZeroMeansUnlimited(t *testing.T) {
	post := limitedPost()
	post.Title = strings.Repeat("t", 10_000)

	assert.NoError(t, CheckLimits(post, Limits{}))
}

func TestCaption(t *testing.T) {
	post := &models.Post{Description: "hello", Hashtags: []string{"go", "dev"}}
	assert.Equal(t, "hello\n\n#go #dev", Caption(post))

	post = &models.Post{Description: "hello"}
	assert.Equal(t, "hello", Caption(post))

	post = &models.Post{Hashtags: []string{"go"}}
	assert.Equal(t, "#go", Caption(post))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRetryable(newAPIError("youtube", 429, "rate limited")))
	assert.True(t, IsRetryable(newAPIError("youtube", 503, "unavailable")))
	assert.False(t, IsRetryable(newAPIError("youtube", 400, "bad request")))
	assert.False(t, IsRetryable(newAPIError("youtube", 403, "forbidden")))
	assert.True(t, IsRetryable(newTransportError("youtube", assert.AnError)))
}
