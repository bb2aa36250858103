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
	facebookAuthURL  = "https://www.facebook.com/v19.0/dialog/oauth"
	facebookGraphURL = "https://graph.facebook.com/v19.0"
	facebookVideoURL = "https://graph-video.facebook.com/v19.0"
)

var facebookScopes = []string{"pages_show_list", "pages_manage_posts", "publish_video"}

type FacebookAdapter struct {
	cfg config.Config
}

func NewFacebookAdapter(cfg config.Config) *FacebookAdapter {
	return &FacebookAdapter{cfg: cfg}
}

func (a *FacebookAdapter) Platform() string {
	return models.PlatformFacebook
}

func (a *FacebookAdapter) Limits() Limits {
	return Limits{
		MaxTitleLen:   255,
		MaxCaptionLen: 5000,
		MaxHashtags:   30,
		MaxHashtagLen: 50,
		MaxVideoBytes: a.cfg.Publishing.MaxVideoBytes,
	}
}

func (a *FacebookAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", a.cfg.FacebookClientID)
	params.Add("redirect_uri", a.cfg.FacebookRedirectURI)
	params.Add("response_type", "code")
	params.Add("scope", strings.Join(facebookScopes, ","))
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", facebookAuthURL, params.Encode())
}

type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type facebookUserResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func (a *FacebookAdapter) ExchangeCode(ctx context.Context, code string) (*Token, *AccountInfo, error) {
	if code == "" {
		err := errors.New("code is empty")
		slog.Info(err.Error())
		return nil, nil, err
	}

	tokenURL := fmt.Sprintf("%s/oauth/access_token?client_id=%s&client_secret=%s&redirect_uri=%s&code=%s",
		facebookGraphURL, a.cfg.FacebookClientID, a.cfg.FacebookClientSecret,
		url.QueryEscape(a.cfg.FacebookRedirectURI), code)

	token, err := a.fetchToken(ctx, tokenURL)
	if err != nil {
		return nil, nil, err
	}

	userInfo, err := a.userInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	return &Token{
			AccessToken: token.AccessToken,
			// Facebook rotates through the long-lived token exchange rather
			// than a refresh token.
			RefreshToken: token.AccessToken,
			ExpiresAt:    GetExpiresAt(token.ExpiresIn),
		}, &AccountInfo{
			PlatformUserID: userInfo.ID,
			Username:       userInfo.Name,
			DisplayName:    userInfo.Name,
			ProfilePicture: userInfo.Picture.Data.URL,
			Scopes:         facebookScopes,
		}, nil
}

func (a *FacebookAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	exchangeURL := fmt.Sprintf("%s/oauth/access_token?grant_type=fb_exchange_token&client_id=%s&client_secret=%s&fb_exchange_token=%s",
		facebookGraphURL, a.cfg.FacebookClientID, a.cfg.FacebookClientSecret, refreshToken)

	token, err := a.fetchToken(ctx, exchangeURL)
	if err != nil {
		return nil, &TokenRefreshError{Platform: a.Platform(), Err: err}
	}

	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.AccessToken,
		ExpiresAt:    GetExpiresAt(token.ExpiresIn),
	}, nil
}

func (a *FacebookAdapter) fetchToken(ctx context.Context, tokenURL string) (*facebookTokenResponse, error) {
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

	var token facebookTokenResponse
	if err := decodeJSON(resp.Body, &token); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || token.AccessToken == "" {
		return nil, fmt.Errorf("facebook token request failed: %s", token.Error.Message)
	}

	return &token, nil
}

func (a *FacebookAdapter) userInfo(ctx context.Context, accessToken string) (*facebookUserResponse, error) {
	infoURL := fmt.Sprintf("%s/me?fields=id,name,picture&access_token=%s", facebookGraphURL, accessToken)

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

	var userInfo facebookUserResponse
	if err := decodeJSON(resp.Body, &userInfo); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &userInfo, nil
}

// Publish is Facebook's single-call video post: the Graph video endpoint pulls
// the file from our storage URL. Returns the video id.
func (a *FacebookAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/videos", facebookVideoURL, account.PlatformUserID)

	params := url.Values{}
	params.Set("file_url", post.VideoURL)
	params.Set("title", post.Title)
	params.Set("description", Caption(post))
	params.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient().Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}
	defer resp.Body.Close()

	var result graphIDResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Info(result.Error.Message)
		return "", newAPIError(a.Platform(), resp.StatusCode, result.Error.Message)
	}

	return result.ID, nil
}
