package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	config "postpilot/configs"
	"postpilot/internal/models"
)

const googleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

var youtubeScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/youtube.upload",
}

type YoutubeAdapter struct {
	cfg config.Config
}

func NewYoutubeAdapter(cfg config.Config) *YoutubeAdapter {
	return &YoutubeAdapter{cfg: cfg}
}

func (a *YoutubeAdapter) Platform() string {
	return models.PlatformYoutube
}

func (a *YoutubeAdapter) Limits() Limits {
	return Limits{
		MaxTitleLen:   100,
		MaxCaptionLen: 5000,
		MaxHashtags:   15,
		MaxHashtagLen: 50,
		MaxVideoBytes: a.cfg.Publishing.MaxVideoBytes,
	}
}

func (a *YoutubeAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", a.cfg.GoogleClientID)
	params.Add("redirect_uri", a.cfg.GoogleRedirectURI)
	params.Add("response_type", "code")
	params.Add("scope", "https://www.googleapis.com/auth/userinfo.profile https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/youtube.upload")
	params.Add("state", state)
	params.Add("access_type", "offline")

	return fmt.Sprintf("%s?%s", googleAuthURL, params.Encode())
}

func (a *YoutubeAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.GoogleClientID,
		ClientSecret: a.cfg.GoogleClientSecret,
		RedirectURL:  a.cfg.GoogleRedirectURI,
		Scopes:       youtubeScopes,
		Endpoint:     google.Endpoint,
	}
}

func (a *YoutubeAdapter) ExchangeCode(ctx context.Context, code string) (*Token, *AccountInfo, error) {
	if code == "" {
		err := errors.New("code is empty")
		slog.Info(err.Error())
		return nil, nil, err
	}

	conf := a.oauthConfig()
	if conf.ClientID == "" || conf.ClientSecret == "" || conf.RedirectURL == "" {
		err := errors.New("OAuth2 configuration is incomplete")
		slog.Info(err.Error())
		return nil, nil, err
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, err
	}

	if token.RefreshToken == "" {
		err = errors.New("refresh token is empty")
		slog.Info(err.Error())
		return nil, nil, err
	}

	client := conf.Client(ctx, token)
	userInfo, err := GoogleUserInfo(client)
	if err != nil {
		return nil, nil, err
	}

	return &Token{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry,
		}, &AccountInfo{
			PlatformUserID: userInfo.ID,
			Username:       userInfo.Email,
			DisplayName:    userInfo.Name,
			ProfilePicture: userInfo.Picture,
			Scopes:         youtubeScopes,
		}, nil
}

func (a *YoutubeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	conf := a.oauthConfig()

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, &TokenRefreshError{Platform: a.Platform(), Err: err}
	}

	refreshed := refreshToken
	if token.RefreshToken != "" {
		refreshed = token.RefreshToken
	}

	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshed,
		ExpiresAt:    token.Expiry,
	}, nil
}

// Publish downloads the video from media storage and runs the resumable
// upload. Returns the YouTube video id.
func (a *YoutubeAdapter) Publish(ctx context.Context, post *models.Post, account *models.SocialAccount, accessToken string) (string, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}

	tempFile, err := downloadVideo(post.VideoURL)
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       post.Title,
			Description: Caption(post),
			Tags:        post.Hashtags,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			slog.Info(apiErr.Message)
			return "", newAPIError(a.Platform(), apiErr.Code, apiErr.Message)
		}
		slog.Info(err.Error())
		return "", newTransportError(a.Platform(), err)
	}

	return response.Id, nil
}

func downloadVideo(videoURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	defer tempFile.Close()

	response, err := http.Get(videoURL)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", newTransportError(models.PlatformYoutube, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		os.Remove(tempFile.Name())
		return "", newTransportError(models.PlatformYoutube, fmt.Errorf("unexpected response status %d fetching video", response.StatusCode))
	}

	if _, err = io.Copy(tempFile, response.Body); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("error saving video to temporary file: %w", err)
	}

	return tempFile.Name(), nil
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func GoogleUserInfo(client *http.Client) (*googleUserInfo, error) {
	userInfoURL := "https://www.googleapis.com/oauth2/v1/userinfo"

	response, err := client.Get(userInfoURL)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error fetching user info: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		slog.Info("Unexpected response status")
		return nil, fmt.Errorf("unexpected response status: %d", response.StatusCode)
	}

	var userInfo googleUserInfo
	if err := decodeJSON(response.Body, &userInfo); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error decoding user info: %w", err)
	}

	return &userInfo, nil
}

func RevokeGoogleAccess(accessToken string) error {
	revokeURL := "https://oauth2.googleapis.com/revoke"

	resp, err := http.PostForm(revokeURL, url.Values{"token": {accessToken}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
