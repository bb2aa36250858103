package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/repository"
)

var videoFileTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "avi": {}, "wmv": {}, "webm": {}, "mkv": {}, "flv": {},
}

var imageFileTypes = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {},
}

type MediaService interface {
	UploadVideo(ctx context.Context, userID int64, file *multipart.FileHeader) (*models.MediaAsset, error)
	UploadThumbnail(ctx context.Context, userID int64, file *multipart.FileHeader) (*models.MediaAsset, error)
}

type mediaService struct {
	config cfg.Config
	ma     repository.MediaAssetRepository
	r2     *R2Service
}

func NewMediaService(config cfg.Config, ma repository.MediaAssetRepository, r2 *R2Service) MediaService {
	return &mediaService{
		config: config,
		ma:     ma,
		r2:     r2,
	}
}

func (s *mediaService) UploadVideo(ctx context.Context, userID int64, file *multipart.FileHeader) (*models.MediaAsset, error) {
	if file.Size > s.config.Publishing.MaxVideoBytes {
		err := errors.New("video exceeds the maximum allowed size")
		slog.Info(err.Error())
		return nil, err
	}
	return s.upload(ctx, userID, file, videoFileTypes)
}

func (s *mediaService) UploadThumbnail(ctx context.Context, userID int64, file *multipart.FileHeader) (*models.MediaAsset, error) {
	if file.Size > s.config.Publishing.MaxThumbnailBytes {
		err := errors.New("thumbnail exceeds the maximum allowed size")
		slog.Info(err.Error())
		return nil, err
	}
	return s.upload(ctx, userID, file, imageFileTypes)
}

// upload sniffs the real file type from content, not the filename, before
// pushing to R2 and recording the asset.
func (s *mediaService) upload(ctx context.Context, userID int64, file *multipart.FileHeader, allowed map[string]struct{}) (*models.MediaAsset, error) {
	fileContent, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer fileContent.Close()

	fileBytes, err := io.ReadAll(fileContent)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}

	fileType, err := filetype.Match(fileBytes)
	if err != nil || fileType == types.Unknown {
		return nil, errors.New("unsupported file type")
	}
	if _, ok := allowed[fileType.Extension]; !ok {
		return nil, fmt.Errorf("file type %s is not allowed", fileType.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	key := fmt.Sprintf("%s.%s", id, fileType.Extension)
	if err := s.r2.UploadToR2(ctx, key, fileBytes, fileType.MIME.Value); err != nil {
		return nil, fmt.Errorf("error uploading file: %w", err)
	}

	asset := models.MediaAsset{
		UserID:   userID,
		FileName: key,
		FileType: fileType.MIME.Value,
		FileSize: file.Size,
		FileURL:  fmt.Sprintf("%s/%s", s.config.R2.PublicURL, key),
	}

	assetID, err := s.ma.Create(ctx, nil, &asset)
	if err != nil {
		return nil, fmt.Errorf("error saving media asset: %w", err)
	}
	asset.ID = assetID

	return &asset, nil
}
