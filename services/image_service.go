package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"marketplace-service/policy"
	"marketplace-service/storage"
)

const maxImageSize = 5 << 20

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// ImageService uploads images on behalf of sellers. Non admin uploads are kept under
// a per-user folder, which is also what authorises their deletion.
type ImageService interface {
	Upload(ctx context.Context, actor policy.Actor, file io.Reader, filename string, size int64, folder string) (*storage.UploadResult, *ServiceError)
	Delete(ctx context.Context, actor policy.Actor, publicID string) *ServiceError
}

type imageServiceImpl struct {
	store  storage.ImageStore
	logger *zap.Logger
}

func NewImageService(store storage.ImageStore, logger *zap.Logger) ImageService {
	return &imageServiceImpl{store: store, logger: logger}
}

func userFolder(userID string) string { return "users/" + userID }

func (s *imageServiceImpl) Upload(ctx context.Context, actor policy.Actor, file io.Reader, filename string, size int64, folder string) (*storage.UploadResult, *ServiceError) {
	if d := policy.CanPerform(actor, policy.Create, policy.Target{Kind: policy.Images}); !d.Allowed {
		return nil, forbiddenError(d.Reason)
	}
	if s.store == nil {
		return nil, externalError(http.StatusServiceUnavailable, "Image storage is not configured")
	}
	if size > maxImageSize {
		return nil, fieldError("file", "must be at most 5MB")
	}
	if !allowedImageExt[strings.ToLower(path.Ext(filename))] {
		return nil, fieldError("file", "must be a jpg, png, webp or gif image")
	}

	if !actor.IsAdmin() {
		folder = path.Join(userFolder(actor.UserID), folder)
	}
	res, err := s.store.Upload(ctx, file, filename, folder)
	if err != nil {
		s.logger.Error("Image upload failed", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, externalError(http.StatusBadGateway, "Image upload failed")
	}
	s.logger.Info("Image uploaded", zap.String("user_id", actor.UserID), zap.String("public_id", res.PublicID))
	return res, nil
}

func (s *imageServiceImpl) Delete(ctx context.Context, actor policy.Actor, publicID string) *ServiceError {
	if publicID == "" {
		return fieldError("public_id", "is required")
	}
	if !actor.IsAdmin() && !strings.Contains(publicID, userFolder(actor.UserID)+"/") {
		return forbiddenError("You can only delete your own images")
	}
	if s.store == nil {
		return externalError(http.StatusServiceUnavailable, "Image storage is not configured")
	}
	err := s.store.Destroy(ctx, publicID)
	if errors.Is(err, storage.ErrNotFound) {
		return notFoundError("Image")
	}
	if err != nil {
		s.logger.Error("Image delete failed", zap.String("public_id", publicID), zap.Error(err))
		return externalError(http.StatusBadGateway, "Image delete failed")
	}
	return nil
}
