package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

var (
	ErrNotConfigured = errors.New("image storage is not configured")
	ErrNotFound      = errors.New("image not found")
)

// UploadResult is what callers keep to render and later delete an image.
type UploadResult struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// ImageStore uploads and removes images at the CDN.
type ImageStore interface {
	Upload(ctx context.Context, file io.Reader, filename, folder string) (*UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

// CloudinaryStore implements ImageStore with the Cloudinary upload API.
type CloudinaryStore struct {
	cld        *cloudinary.Cloudinary
	rootFolder string
}

// NewCloudinaryStore configures the SDK from a cloudinary:// URL.
func NewCloudinaryStore(cloudinaryURL, rootFolder string) (*CloudinaryStore, error) {
	if cloudinaryURL == "" {
		return nil, ErrNotConfigured
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init error: %w", err)
	}
	cld.Config.URL.Secure = true
	return &CloudinaryStore{cld: cld, rootFolder: rootFolder}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, file io.Reader, filename, folder string) (*UploadResult, error) {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	params := uploader.UploadParams{
		PublicID:       fmt.Sprintf("%s_%s", sanitize(base), uuid.NewString()[:8]),
		Folder:         s.folder(folder),
		UniqueFilename: api.Bool(false),
		Overwrite:      api.Bool(false),
	}

	resp, err := s.cld.Upload.Upload(ctx, file, params)
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return &UploadResult{SecureURL: resp.SecureURL, PublicID: resp.PublicID}, nil
}

func (s *CloudinaryStore) Destroy(ctx context.Context, publicID string) error {
	resp, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID, Invalidate: api.Bool(true)})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", resp.Error.Message)
	}
	if resp.Result == "not found" {
		return ErrNotFound
	}
	if resp.Result != "ok" {
		return fmt.Errorf("cloudinary destroy: unexpected result %q", resp.Result)
	}
	return nil
}

func (s *CloudinaryStore) folder(sub string) string {
	sub = strings.Trim(sanitize(sub), "/")
	if sub == "" {
		return s.rootFolder
	}
	return s.rootFolder + "/" + sub
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '/':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}
