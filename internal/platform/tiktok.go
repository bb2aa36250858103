package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "postpilot/configs"
	"postpilot/internal/models"
)

const (
	tiktokAuthURL    = "https://www.tiktok.com/v2/auth/authorize"
	tiktokTokenURL   = "https://open.tiktokapis.com/v2/oauth/token/"
	tiktokScopes     = "user.info.basic,user.info.profile,video.publish,video.upload"
	tiktokPublishURL = "https://open.tiktokapis.com/v2/post/publish/video/init/"
)

type TiktokAdapter struct {
	cfg config.Config
}

func NewTiktokAdapter(cfg config.Config) *TiktokAdapter {
	return &TiktokAdapter{cfg: cfg}
}

func (a *TiktokAdapter) Platform() string {
	return models.PlatformTiktok
}

func (a *TiktokAdapter) Limits() Limits {
	return Limits{
		MaxCaptionLen: 2200,
		MaxHashtags:   30,
		MaxHashtagLen: 50,
		MaxVideoBytes: a.cfg.Publishing.MaxVideoBytes,
	}
}

func (a *TiktokAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_key", a.cfg.TiktokClientKey)
	params.Add("scope", tiktokScopes)
	params.Add("response_type", "code")
	params.Add("redirect_uri", a.cfg.TiktokRedirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", tiktokAuthURL, params.Encode())
}

type tiktokTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type tiktokUserResponse struct {
	Data struct {
		User struct {
			OpenID      string `json:"open_id"`
			AvatarURL   string `json:"avatar_url"`
			DisplayName string `json:"display_name"`
			Username    string `json:"username"`
		} `json:"user"`
	} `json:"data"`
}

type tiktokPublishResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *TiktokAdapter) ExchangeCode(ctx context.Context, code string) (*Token, *AccountInfo, error) {
	if code == "" {
		err := errors.New("code is empty")
		slog.Info(err.Error())
		return nil, nil, err
	}

	data := url.Values{}
	data.Add("client_key", a.cfg.TiktokClientKey)
	data.Add("client_secret", a.cfg.TiktokClientSecret)
	data.Add("code", code)
	data.Add("grant_type", "authorization_code")
	data.Add("redirect_uri", a.cfg.TiktokRedirectURI)

	tokenResponse, err := a.requestToken(ctx, data)
	if err != nil {
		return nil, nil, err
	}

	userInfo, err := a.userInfo(ctx, tokenResponse.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	return &Token{
			AccessToken:  tokenResponse.AccessToken,
			RefreshToken: tokenResponse.RefreshToken,
			ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
		}, &AccountInfo{
			PlatformUserID: userInfo.Data.User.OpenID,
			Username:       userInfo.Data.User.Username,
			DisplayName:    userInfo.Data.User.DisplayName,
			ProfilePicture: userInfo.Data.User.AvatarURL,
			Scopes:         strings.Split(tiktokScopes, ","),
		}, nil
}

func (a *TiktokAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("client_key", a.cfg.TiktokClientKey)
	data.Set("client_secret", a.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	tokenResponse, err := a.requestToken(ctx, data)
	if err != nil {
		return nil, &TokenRefreshError{Platform: a.Platform(), Err: err}
	}

	return &Token{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (a *TiktokAdapter) requestToken(ctx context.Context, data url.Values) (*tiktokTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	var tokenResponse tiktokTokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || tokenResponse.Error != "" {
		slog.Info("TikTok token endpoint returned an error")
		return nil, fmt.Errorf("tiktok token endpoint: %s %s", tokenResponse.Error, tokenResponse.ErrorDescription)
	}

	return &tokenResponse, nil
}

func (a *TiktokAdapter) userInfo(ctx context.Context, accessToken string) (*tiktokUserResponse, error) {
	infoURL := "https://open.tiktokapis.com/v2/user/info/?fields=open_id,avatar_url,display_name,username"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var result tiktokUserResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &result, nil
}

// Publish runs TikTok's direct-post flow: query creator info, then init the
// video post with a PULL_FROM_URL source. Returns the publish id.
func (a *TiktokAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	if err := a.queryCreatorInfo(ctx, accessToken); err != nil {
		return "", err
	}

	payload := map[string]any{
		"post_info": map[string]any{
			"title":                    Caption(post),
			"privacy_level":            "PUBLIC_TO_EVERYONE",
			"disable_duet":             false,
			"disable_comment":          false,
			"disable_stitch":           false,
			"video_cover_timestamp_ms": 1000,
		},
		"source_info": map[string]any{
			"source":    "PULL_FROM_URL",
			"video_url": post.VideoURL,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Println("Error marshalling data:", err)
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokPublishURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}
	defer resp.Body.Close()

	var result tiktokPublishResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Error posting video on tiktok: %s", result.Error.Message)
		return "", newAPIError(a.Platform(), resp.StatusCode, result.Error.Message)
	}

	return result.Data.PublishID, nil
}

func (a *TiktokAdapter) queryCreatorInfo(ctx context.Context, accessToken string) error {
	requestURL := "https://open.tiktokapis.com/v2/post/publish/creator_info/query/"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return newTransportError(a.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newAPIError(a.Platform(), resp.StatusCode, "creator info query failed")
	}
	return nil
}

func RevokeTiktokAccess(openID, accessToken string) error {
	urlRevoke := "https://open-api.tiktok.com/oauth/revoke/"
	params := url.Values{}
	params.Add("open_id", openID)
	params.Add("access_token", accessToken)

	req, err := http.NewRequest(http.MethodPost, urlRevoke, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
