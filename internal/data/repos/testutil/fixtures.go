package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
)

func SeedTenant(tb testing.TB, ctx context.Context, tx *gorm.DB, slug string) *types.Tenant {
	tb.Helper()
	t := &types.Tenant{
		ID:   uuid.New(),
		Name: slug,
		Slug: slug,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return t
}

func SeedBrand(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) *types.Brand {
	tb.Helper()
	b := &types.Brand{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "brand",
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed brand: %v", err)
	}
	return b
}

func SeedCategory(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, requiresApproval bool) *types.Category {
	tb.Helper()
	c := &types.Category{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Name:             "category",
		RequiresApproval: requiresApproval,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed category: %v", err)
	}
	return c
}

func SeedAsset(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) *types.Asset {
	tb.Helper()
	a := &types.Asset{
		ID:               uuid.New(),
		TenantID:         tenantID,
		UploaderID:       uuid.New(),
		Status:           types.AssetStatusHidden,
		AnalysisStatus:   types.AnalysisUploading,
		ApprovalStatus:   types.ApprovalNotRequired,
		OriginalFilename: "photo.jpg",
		SizeBytes:        1000,
		MimeType:         "image/jpeg",
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed asset: %v", err)
	}
	return a
}

func SeedAssetVersion(tb testing.TB, ctx context.Context, tx *gorm.DB, assetID uuid.UUID, versionNumber int, isCurrent bool) *types.AssetVersion {
	tb.Helper()
	v := &types.AssetVersion{
		ID:             uuid.New(),
		AssetID:        assetID,
		VersionNumber:  versionNumber,
		FilePath:       "tenants/x/assets/y/v1/photo.jpg",
		SizeBytes:      1000,
		MimeType:       "image/jpeg",
		Checksum:       "abc123",
		PipelineStatus: types.PipelinePending,
		IsCurrent:      isCurrent,
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed asset version: %v", err)
	}
	return v
}

func SeedMetadataField(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, key string) *types.MetadataField {
	tb.Helper()
	f := &types.MetadataField{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Key:            key,
		PopulationMode: types.PopulationPriority,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed metadata field: %v", err)
	}
	return f
}

func SeedUploadSession(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, expectedSize int64) *types.UploadSession {
	tb.Helper()
	s := &types.UploadSession{
		ID:           uuid.New(),
		TenantID:     tenantID,
		UploaderID:   uuid.New(),
		Mode:         types.UploadModeCreate,
		Filename:     "photo.jpg",
		MimeType:     "image/jpeg",
		ExpectedSize: expectedSize,
		Status:       types.SessionUploading,
		ExpiresAt:    time.Now().Add(1 * time.Hour),
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed upload session: %v", err)
	}
	return s
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

func PtrFloat(v float64) *float64 { return &v }
