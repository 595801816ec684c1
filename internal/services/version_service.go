package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// VersionService covers version operations outside the upload path.
type VersionService interface {
	// Restore appends a new version pointing at an older version's stored
	// file. The new version is not promoted here: like a replacement upload,
	// the pipeline's promote stage swaps is_current after reprocessing
	// succeeds, so the current version keeps serving until then.
	Restore(dbc dbctx.Context, tenantID, assetID, versionID uuid.UUID) (*types.AssetVersion, *types.JobRun, error)
}

type versionService struct {
	db       *gorm.DB
	log      *logger.Logger
	assets   assetsrepo.AssetRepo
	versions assetsrepo.AssetVersionRepo
	jobs     JobService
	activity activity.Writer
}

func NewVersionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assets assetsrepo.AssetRepo,
	versions assetsrepo.AssetVersionRepo,
	jobs JobService,
	act activity.Writer,
) VersionService {
	return &versionService{
		db:       db,
		log:      baseLog.With("service", "VersionService"),
		assets:   assets,
		versions: versions,
		jobs:     jobs,
		activity: act,
	}
}

func (s *versionService) Restore(dbc dbctx.Context, tenantID, assetID, versionID uuid.UUID) (*types.AssetVersion, *types.JobRun, error) {
	if tenantID == uuid.Nil || assetID == uuid.Nil || versionID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: missing id", apperr.ErrInvalidArgument)
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	var (
		restored *types.AssetVersion
		job      *types.JobRun
	)
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		asset, err := s.assets.GetByID(inner, assetID)
		if err != nil {
			return err
		}
		if asset == nil || asset.TenantID != tenantID {
			return fmt.Errorf("%w: asset %s", apperr.ErrNotFound, assetID)
		}
		source, err := s.versions.GetByID(inner, versionID)
		if err != nil {
			return err
		}
		if source == nil || source.AssetID != assetID {
			return fmt.Errorf("%w: version %s", apperr.ErrNotFound, versionID)
		}
		if source.IsCurrent {
			return fmt.Errorf("%w: version %d is already current", apperr.ErrInvalidTransition, source.VersionNumber)
		}

		now := time.Now()
		next := &types.AssetVersion{
			ID:                    uuid.New(),
			AssetID:               assetID,
			FilePath:              source.FilePath,
			SizeBytes:             source.SizeBytes,
			MimeType:              source.MimeType,
			Checksum:              source.Checksum,
			Width:                 source.Width,
			Height:                source.Height,
			PipelineStatus:        types.PipelinePending,
			RestoredFromVersionID: &source.ID,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		restored, err = s.versions.CreateNext(inner, next, false)
		if err != nil {
			return fmt.Errorf("create restored version: %w", err)
		}

		if err := s.assets.UpdateFields(inner, assetID, map[string]interface{}{
			"analysis_status":  types.AnalysisUploading,
			"thumbnail_status": types.ThumbnailPending,
			"updated_at":       now,
		}); err != nil {
			return err
		}

		job, _, err = s.jobs.EnqueueAssetProcessIfNeeded(inner, tenantID, assetID, restored.ID)
		if err != nil {
			return err
		}

		s.activity.Record(inner, activity.Entry{
			TenantID:    tenantID,
			SubjectKind: types.SubjectAssetVersion,
			SubjectID:   restored.ID,
			ActorKind:   types.ActorUser,
			Event:       "version_restored",
			Data: map[string]any{
				"asset_id":       assetID,
				"source_version": source.VersionNumber,
				"new_version":    restored.VersionNumber,
			},
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return restored, job, nil
}
