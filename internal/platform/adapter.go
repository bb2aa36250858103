package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"postpilot/internal/models"
)

// Token is a decrypted OAuth token pair. Adapters never see or produce
// encrypted tokens; persistence is the caller's job.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type AccountInfo struct {
	PlatformUserID string
	Username       string
	DisplayName    string
	ProfilePicture string
	Scopes         []string
}

// Adapter translates generic publish/refresh operations into one platform's
// API calls. Each platform has its own multi-step flow behind Publish; the
// rest of the system only sees the returned platform post id or a normalized
// error.
type Adapter interface {
	Platform() string
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, *AccountInfo, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error)
	Limits() Limits
}

type Registry map[string]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Platform()] = a
	}
	return r
}

func (r Registry) Get(platform string) (Adapter, bool) {
	a, ok := r[platform]
	return a, ok
}

// Caption joins the description and hashtags the way every platform expects
// them in one text field.
func Caption(post *models.Post) string {
	if len(post.Hashtags) == 0 {
		return post.Description
	}
	tags := make([]string, 0, len(post.Hashtags))
	for _, tag := range post.Hashtags {
		tags = append(tags, "#"+tag)
	}
	if post.Description == "" {
		return strings.Join(tags, " ")
	}
	return post.Description + "\n\n" + strings.Join(tags, " ")
}

func decodeJSON(body io.Reader, v any) error {
	return json.NewDecoder(body).Decode(v)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
