package bucket

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// Service is the object storage layer. Keys are always tenant-scoped; use
// the key helpers rather than assembling paths by hand.
type Service interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
	Close() error
}

type gcsService struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
	cdnDomain  string
}

// New opens a GCS-backed Service. GCS_BUCKET_NAME is required;
// GOOGLE_APPLICATION_CREDENTIALS_JSON points at a service account file and
// falls back to ADC when unset. STORAGE_EMULATOR_HOST is honored by the
// client itself, which is what the integration environment relies on.
func New(baseLog *logger.Logger) (Service, error) {
	serviceLog := baseLog.With("service", "BucketService")
	bucketName := os.Getenv("GCS_BUCKET_NAME")
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}
	cdnDomain := os.Getenv("CDN_DOMAIN")
	saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")

	ctx := context.Background()
	var client *storage.Client
	var err error
	if saPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &gcsService{
		log:        serviceLog,
		client:     client,
		bucketName: bucketName,
		cdnDomain:  cdnDomain,
	}, nil
}

func (s *gcsService) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", key, err)
	}
	return nil
}

func (s *gcsService) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	r, err := s.client.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return b, nil
}

func (s *gcsService) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucketName).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *gcsService) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.client.Bucket(s.bucketName).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *gcsService) PublicURL(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key)
}

func (s *gcsService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// OriginalKey is the storage location for the raw upload of one version.
func OriginalKey(tenantID, assetID, versionID uuid.UUID, filename string) string {
	return fmt.Sprintf("tenants/%s/assets/%s/versions/%s/original/%s", tenantID, assetID, versionID, filename)
}

// ThumbnailKey is the storage location for a rendered thumbnail.
func ThumbnailKey(tenantID, assetID, versionID uuid.UUID, maxDim int) string {
	return fmt.Sprintf("tenants/%s/assets/%s/versions/%s/thumb_%d.jpg", tenantID, assetID, versionID, maxDim)
}

// PreviewKey is the storage location for the rendered preview.
func PreviewKey(tenantID, assetID, versionID uuid.UUID) string {
	return fmt.Sprintf("tenants/%s/assets/%s/versions/%s/preview.jpg", tenantID, assetID, versionID)
}
