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
	instagramAuthURL  = "https://www.instagram.com/oauth/authorize"
	instagramGraphURL = "https://graph.instagram.com"
)

var instagramScopes = []string{"instagram_business_basic", "instagram_business_content_publish"}

type InstagramAdapter struct {
	cfg config.Config
}

func NewInstagramAdapter(cfg config.Config) *InstagramAdapter {
	return &InstagramAdapter{cfg: cfg}
}

func (a *InstagramAdapter) Platform() string {
	return models.PlatformInstagram
}

func (a *InstagramAdapter) Limits() Limits {
	return Limits{
		MaxCaptionLen: 2200,
		MaxHashtags:   30,
		MaxHashtagLen: 50,
		MaxVideoBytes: a.cfg.Publishing.MaxVideoBytes,
	}
}

func (a *InstagramAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", a.cfg.InstagramClientID)
	params.Add("scope", strings.Join(instagramScopes, ","))
	params.Add("response_type", "code")
	params.Add("redirect_uri", a.cfg.InstagramRedirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", instagramAuthURL, params.Encode())
}

type instagramTokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	ExpiresIn   int    `json:"expires_in"`
}

type instagramUserResponse struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture_url"`
}

type graphIDResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (a *InstagramAdapter) ExchangeCode(ctx context.Context, code string) (*Token, *AccountInfo, error) {
	if code == "" {
		err := errors.New("code is empty")
		slog.Info(err.Error())
		return nil, nil, err
	}

	// Short-lived token first, then the long-lived exchange.
	data := url.Values{}
	data.Set("client_id", a.cfg.InstagramClientID)
	data.Set("client_secret", a.cfg.InstagramClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", a.cfg.InstagramRedirectURI)
	data.Set("code", code)

	resp, err := http.PostForm("https://api.instagram.com/oauth/access_token", data)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, fmt.Errorf("failed to get short-lived token: %w", err)
	}
	defer resp.Body.Close()

	var shortLived instagramTokenResponse
	if err := decodeJSON(resp.Body, &shortLived); err != nil {
		slog.Info(err.Error())
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("instagram token endpoint returned status %d", resp.StatusCode)
	}

	longLivedURL := fmt.Sprintf("%s/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		instagramGraphURL, a.cfg.InstagramClientSecret, shortLived.AccessToken)
	longLived, err := a.fetchToken(ctx, longLivedURL)
	if err != nil {
		return nil, nil, err
	}

	userInfo, err := a.userInfo(ctx, longLived.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	// Instagram has no separate refresh token; the long-lived token refreshes
	// itself.
	return &Token{
			AccessToken:  longLived.AccessToken,
			RefreshToken: longLived.AccessToken,
			ExpiresAt:    GetExpiresAt(longLived.ExpiresIn),
		}, &AccountInfo{
			PlatformUserID: userInfo.UserID,
			Username:       userInfo.Username,
			DisplayName:    userInfo.Name,
			ProfilePicture: userInfo.ProfilePicture,
			Scopes:         instagramScopes,
		}, nil
}

func (a *InstagramAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	refreshURL := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		instagramGraphURL, refreshToken)

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

func (a *InstagramAdapter) fetchToken(ctx context.Context, tokenURL string) (*instagramTokenResponse, error) {
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

	var token instagramTokenResponse
	if err := decodeJSON(resp.Body, &token); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || token.AccessToken == "" {
		return nil, fmt.Errorf("instagram token request returned status %d", resp.StatusCode)
	}

	return &token, nil
}

func (a *InstagramAdapter) userInfo(ctx context.Context, accessToken string) (*instagramUserResponse, error) {
	infoURL := fmt.Sprintf("%s/me?fields=user_id,username,name,profile_picture_url&access_token=%s", instagramGraphURL, accessToken)

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

	var userInfo instagramUserResponse
	if err := decodeJSON(resp.Body, &userInfo); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &userInfo, nil
}

// Publish runs the two-step Reels flow: create a media container pulling the
// video from storage, then publish the container. Returns the IG media id.
func (a *InstagramAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	containerURL := fmt.Sprintf("%s/%s/media", instagramGraphURL, account.PlatformUserID)
	containerParams := url.Values{}
	containerParams.Set("media_type", "REELS")
	containerParams.Set("video_url", post.VideoURL)
	containerParams.Set("caption", Caption(post))
	if post.ThumbnailURL != "" {
		containerParams.Set("cover_url", post.ThumbnailURL)
	}
	containerParams.Set("access_token", accessToken)

	container, err := a.graphPost(ctx, containerURL, containerParams)
	if err != nil {
		return "", err
	}

	publishURL := fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, account.PlatformUserID)
	publishParams := url.Values{}
	publishParams.Set("creation_id", container.ID)
	publishParams.Set("access_token", accessToken)

	published, err := a.graphPost(ctx, publishURL, publishParams)
	if err != nil {
		return "", err
	}

	return published.ID, nil
}

func (a *InstagramAdapter) graphPost(ctx context.Context, endpoint string, params url.Values) (*graphIDResponse, error) {
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
