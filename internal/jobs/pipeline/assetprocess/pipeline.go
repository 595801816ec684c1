package assetprocess

import (
	"fmt"
	"time"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/incidents"
	"github.com/brandvault/dam-backend/internal/jobs/orchestrator"
	jobrt "github.com/brandvault/dam-backend/internal/jobs/runtime"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

// runState carries the asset and version rows across the stage list for one
// claim of the job. It is rebuilt from the database on every claim, so a
// requeued job always sees current rows.
type runState struct {
	asset   *types.Asset
	version *types.AssetVersion

	// original is the lazily-downloaded source binary, shared by the
	// extract/thumbnail/preview stages within a single claim.
	original []byte

	// fieldsByKey caches the tenant's metadata field definitions.
	fieldsByKey map[string]*types.MetadataField
}

type stageFn func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	assetID, ok := jc.PayloadUUID("asset_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("payload missing asset_id"))
		return nil
	}
	versionID, ok := jc.PayloadUUID("asset_version_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("payload missing asset_version_id"))
		return nil
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	asset, err := p.assets.GetByID(dbc, assetID)
	if err != nil {
		jc.Fail("load_asset", err)
		return nil
	}
	version, err := p.versions.GetByID(dbc, versionID)
	if err != nil {
		jc.Fail("load_version", err)
		return nil
	}
	if version.AssetID != asset.ID {
		jc.Fail("validate", fmt.Errorf("version %s does not belong to asset %s", versionID, assetID))
		return nil
	}

	run := &runState{asset: asset, version: version}
	if version.PipelineStatus == types.PipelinePending {
		if err := p.setVersion(dbc, run, map[string]interface{}{"pipeline_status": types.PipelineProcessing}); err != nil {
			jc.Fail("start", err)
			return nil
		}
	}

	if err := p.engine.Run(jc, p.buildStages(run), map[string]any{
		"asset_id":         asset.ID.String(),
		"asset_version_id": version.ID.String(),
	}); err != nil {
		jc.Fail("orchestrate", err)
		return nil
	}

	// The engine reports terminal failure through jc.Fail; reflect it on the
	// rows so readers don't see a version stuck in "processing". Prior stage
	// work (candidates, uploaded derivatives) is deliberately left in place
	// for the retry to build on.
	if jc.Job != nil && jc.Job.Status == types.JobFailed {
		_ = p.setVersion(dbc, run, map[string]interface{}{"pipeline_status": types.PipelineFailed})
		_ = p.setAsset(dbc, run, map[string]interface{}{"status": types.AssetStatusFailed})
	}
	return nil
}

func (p *Pipeline) buildStages(run *runState) []orchestrator.Stage {
	notImage := func(jc *jobrt.Context, st *orchestrator.State) (bool, error) {
		return !isImage(run.version.MimeType), nil
	}
	return []orchestrator.Stage{
		{
			Name:     "extract_metadata",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 5, EndPct: 20,
			StartMsg: "Extracting metadata",
			Retry:    p.retryPolicy(),
			IsDone: func(jc *jobrt.Context, st *orchestrator.State) (bool, error) {
				return run.version.Width != nil && run.version.Height != nil, nil
			},
			Run: p.reporting(run, incidents.CategoryExtraction, p.stageExtract(run)),
		},
		{
			Name:     "generate_thumbnails",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 20, EndPct: 40,
			StartMsg: "Generating thumbnails",
			Retry:    p.retryPolicy(),
			Skip:     notImage,
			IsDone: func(jc *jobrt.Context, st *orchestrator.State) (bool, error) {
				return run.version.ThumbnailPath != "", nil
			},
			Run: p.reporting(run, incidents.CategoryThumbnail, p.stageThumbnails(run)),
		},
		{
			Name:     "generate_preview",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 40, EndPct: 50,
			StartMsg: "Generating preview",
			Retry:    p.retryPolicy(),
			Skip:     notImage,
			IsDone: func(jc *jobrt.Context, st *orchestrator.State) (bool, error) {
				return run.version.PreviewPath != "", nil
			},
			Run: p.reporting(run, incidents.CategoryThumbnail, p.stagePreview(run)),
		},
		{
			Name:     "computed_metadata",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 50, EndPct: 75,
			StartMsg: "Computing metadata",
			Retry:    p.retryPolicy(),
			Run:      p.reporting(run, incidents.CategoryMetadata, p.stageComputed(run)),
		},
		{
			Name:     "resolve_candidates",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 75, EndPct: 85,
			StartMsg: "Resolving candidates",
			Retry:    p.retryPolicy(),
			Run:      p.reporting(run, incidents.CategoryMetadata, p.stageResolve(run)),
		},
		{
			Name:     "finalize",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 85, EndPct: 95,
			StartMsg: "Finalizing",
			Retry:    p.retryPolicy(),
			IsDone: func(jc *jobrt.Context, st *orchestrator.State) (bool, error) {
				return run.asset.AnalysisStatus == types.AnalysisComplete &&
					run.version.PipelineStatus == types.PipelineComplete, nil
			},
			Run: p.stageFinalize(run),
		},
		{
			Name:     "promote",
			Timeout:  p.cfg.StageTimeout,
			StartPct: 95, EndPct: 100,
			StartMsg: "Promoting version",
			DoneMsg:  "Asset ready",
			Retry:    p.retryPolicy(),
			Run:      p.stagePromote(run),
		},
	}
}

func (p *Pipeline) retryPolicy() orchestrator.RetryPolicy {
	return orchestrator.RetryPolicy{
		MaxAttempts: p.cfg.StageMaxAttempts,
		MinBackoff:  p.cfg.StageMinBackoff,
		MaxBackoff:  p.cfg.StageMaxBackoff,
	}
}

// reporting wraps a stage body so every failed attempt lands in the incident
// ledger. Reporting is best-effort and never masks the stage error.
func (p *Pipeline) reporting(run *runState, category string, fn stageFn) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		out, err := fn(jc, st)
		if err != nil {
			p.ledger.Report(dbctx.Context{Ctx: jc.Ctx}, incidents.ReportInput{
				TenantID:   run.asset.TenantID,
				SourceType: types.IncidentSourceAsset,
				SourceID:   run.asset.ID,
				Category:   category,
				Severity:   "error",
				Retryable:  true,
				Message:    err.Error(),
				Details: map[string]any{
					"asset_version_id": run.version.ID,
					"job_id":           jc.Job.ID,
				},
			})
		}
		return out, err
	}
}

// analysis_status only moves forward. A replayed stage that already advanced
// it is a no-op here, which is what makes each advance exactly-once.
var analysisRank = map[string]int{
	types.AnalysisUploading:            0,
	types.AnalysisExtractingMetadata:   1,
	types.AnalysisGeneratingThumbnails: 2,
	types.AnalysisGeneratingEmbedding:  3,
	types.AnalysisScoring:              4,
	types.AnalysisComplete:             5,
}

func (p *Pipeline) advanceAnalysis(dbc dbctx.Context, run *runState, to string) error {
	if analysisRank[to] <= analysisRank[run.asset.AnalysisStatus] {
		return nil
	}
	if err := p.setAsset(dbc, run, map[string]interface{}{"analysis_status": to}); err != nil {
		return err
	}
	run.asset.AnalysisStatus = to
	return nil
}

func (p *Pipeline) setAsset(dbc dbctx.Context, run *runState, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return p.assets.UpdateFields(dbc, run.asset.ID, updates)
}

func (p *Pipeline) setVersion(dbc dbctx.Context, run *runState, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	if err := p.versions.UpdateFields(dbc, run.version.ID, updates); err != nil {
		return err
	}
	if v, ok := updates["pipeline_status"].(string); ok {
		run.version.PipelineStatus = v
	}
	return nil
}
