package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "postpilot/configs"
	"postpilot/internal/models"
)

const (
	threadsAuthURL  = "https://threads.net/oauth/authorize"
	threadsGraphURL = "https://graph.threads.net/v1.0"
)

var threadsScopes = []string{"threads_basic", "threads_content_publish"}

type ThreadsAdapter struct {
	cfg config.Config
}

func NewThreadsAdapter(cfg config.Config) *ThreadsAdapter {
	return &ThreadsAdapter{cfg: cfg}
}

func (a *ThreadsAdapter) Platform() string {
	return models.PlatformThreads
}

func (a *ThreadsAdapter) Limits() Limits {
	return Limits{
		MaxCaptionLen: 500,
		MaxHashtags:   10,
		MaxHashtagLen: 50,
		MaxVideoBytes: a.cfg.Publishing.MaxVideoBytes,
	}
}

func (a *ThreadsAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", a.cfg.ThreadsClientID)
	params.Add("redirect_uri", a.cfg.ThreadsRedirectURI)
	params.Add("response_type", "code")
	params.Add("scope", strings.Join(threadsScopes, ","))
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", threadsAuthURL, params.Encode())
}

type threadsTokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	ExpiresIn   int    `json:"expires_in"`
}

type threadsUserResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	ProfilePicture string `json:"threads_profile_picture_url"`
}

func (a *ThreadsAdapter) ExchangeCode(ctx context.Context, code string) (*Token, *AccountInfo, error) {
	if code == "" {
		err := errors.New("code is empty")
		slog.Info(err.Error())
		return nil, nil, err
	}

	data := url.Values{}
	data.Set("client_id", a.cfg.ThreadsClientID)
	data.Set("client_secret", a.cfg.ThreadsClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", a.cfg.ThreadsRedirectURI)
	data.Set("code", code)

	resp, err := http.PostForm(threadsGraphURL+"/oauth/access_token", data)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, err
	}
	defer resp.Body.Close()

	var shortLived threadsTokenResponse
	if err := decodeJSON(resp.Body, &shortLived); err != nil {
		slog.Info(err.Error())
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("threads token endpoint returned status %d", resp.StatusCode)
	}

	longLivedURL := fmt.Sprintf("%s/access_token?grant_type=th_exchange_token&client_secret=%s&access_token=%s",
		threadsGraphURL, a.cfg.ThreadsClientSecret, shortLived.AccessToken)
	longLived, err := a.fetchToken(ctx, longLivedURL)
	if err != nil {
		return nil, nil, err
	}

	userInfo, err := a.userInfo(ctx, longLived.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	return &Token{
			AccessToken:  longLived.AccessToken,
			RefreshToken: longLived.AccessToken,
			ExpiresAt:    GetExpiresAt(longLived.ExpiresIn),
		}, &AccountInfo{
			PlatformUserID: userInfo.ID,
			Username:       userInfo.Username,
			DisplayName:    userInfo.Name,
			ProfilePicture: userInfo.ProfilePicture,
			Scopes:         threadsScopes,
		}, nil
}

func (a *ThreadsAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	refreshURL := fmt.Sprintf("%s/refresh_access_token?grant_type=th_refresh_token&access_token=%s",
		threadsGraphURL, refreshToken)

	token, err := a.fetchToken(ctx, refreshURL)
	if err != nil {
		return nil, &TokenRefreshError{Platform: a.Platform(), Err: err}
	}

	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.AccessToken,
		ExpiresAt:    GetExpiresAt(token.ExpiresIn),
	}, nil
}

func (a *ThreadsAdapter) fetchToken(ctx context.Context, tokenURL string) (*threadsTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var token threadsTokenResponse
	if err := decodeJSON(resp.Body, &token); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || token.AccessToken == "" {
		return nil, fmt.Errorf("threads token request returned status %d", resp.StatusCode)
	}

	return &token, nil
}

func (a *ThreadsAdapter) userInfo(ctx context.Context, accessToken string) (*threadsUserResponse, error) {
	infoURL := fmt.Sprintf("%s/me?fields=id,username,name,threads_profile_picture_url&access_token=%s", threadsGraphURL, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var userInfo threadsUserResponse
	if err := decodeJSON(resp.Body, &userInfo); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &userInfo, nil
}

// Publish creates a video container and publishes it, the same two-step shape
// as Instagram. Returns the thread id.
func (a *ThreadsAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	containerURL := fmt.Sprintf("%s/%s/threads", threadsGraphURL, account.PlatformUserID)
	containerParams := url.Values{}
	containerParams.Set("media_type", "VIDEO")
	containerParams.Set("video_url", post.VideoURL)
	containerParams.Set("text", Caption(post))
	containerParams.Set("access_token", accessToken)

	container, err := a.graphPost(ctx, containerURL, containerParams)
	if err != nil {
		return "", err
	}

	publishURL := fmt.Sprintf("%s/%s/threads_publish", threadsGraphURL, account.PlatformUserID)
	publishParams := url.Values{}
	publishParams.Set("creation_id", container.ID)
	publishParams.Set("access_token", accessToken)

	published, err := a.graphPost(ctx, publishURL, publishParams)
	if err != nil {
		return "", err
	}

	return published.ID, nil
}

func (a *ThreadsAdapter) graphPost(ctx context.Context, endpoint string, params url.Values) (*graphIDResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newTransportError(a.Platform(), err)
	}
	defer resp.Body.Close()

	var result graphIDResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		slog.Info(err.Error())
		return nil, newTransportError(a.Platform(), err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Info(result.Error.Message)
		return nil, newAPIError(a.Platform(), resp.StatusCode, result.Error.Message)
	}

	return &result, nil
}
