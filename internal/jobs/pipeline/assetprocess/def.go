package assetprocess

import (
	"gorm.io/gorm"

	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	"github.com/brandvault/dam-backend/internal/incidents"
	"github.com/brandvault/dam-backend/internal/jobs/orchestrator"
	"github.com/brandvault/dam-backend/internal/platform/ai"
	"github.com/brandvault/dam-backend/internal/platform/bucket"
	"github.com/brandvault/dam-backend/internal/platform/config"
	"github.com/brandvault/dam-backend/internal/platform/logger"
	"github.com/brandvault/dam-backend/internal/platform/vision"
	"github.com/brandvault/dam-backend/internal/resolver"
)

// Pipeline normalizes one asset version: probe intrinsics, render
// derivatives, compute AI metadata, resolve candidates, finalize and promote.
// Every stage is idempotent; the orchestrator may replay any of them.
type Pipeline struct {
	db         *gorm.DB
	log        *logger.Logger
	cfg        config.PipelineConfig
	engine     *orchestrator.Engine
	assets     assetsrepo.AssetRepo
	versions   assetsrepo.AssetVersionRepo
	fields     assetsrepo.MetadataFieldRepo
	candidates assetsrepo.CandidateRepo
	resolver   resolver.Resolver
	bucket     bucket.Service
	labeler    vision.Labeler
	ai         ai.Client
	ledger     incidents.Ledger
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.PipelineConfig,
	assets assetsrepo.AssetRepo,
	versions assetsrepo.AssetVersionRepo,
	fields assetsrepo.MetadataFieldRepo,
	candidates assetsrepo.CandidateRepo,
	res resolver.Resolver,
	store bucket.Service,
	labeler vision.Labeler,
	aiClient ai.Client,
	ledger incidents.Ledger,
) *Pipeline {
	return &Pipeline{
		db:         db,
		log:        baseLog.With("job", "asset_process"),
		cfg:        cfg,
		engine:     orchestrator.NewEngine(),
		assets:     assets,
		versions:   versions,
		fields:     fields,
		candidates: candidates,
		resolver:   res,
		bucket:     store,
		labeler:    labeler,
		ai:         aiClient,
		ledger:     ledger,
	}
}

func (p *Pipeline) Type() string { return "asset_process" }
