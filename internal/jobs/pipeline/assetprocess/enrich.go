package assetprocess

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/jobs/orchestrator"
	jobrt "github.com/brandvault/dam-backend/internal/jobs/runtime"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

const maxVisionLabels = 10

// stageComputed runs the AI producers: an embedding over the asset's textual
// signals, a quality score, and vision labels as tag candidates. Each product
// is guarded so a replay never duplicates candidates.
func (p *Pipeline) stageComputed(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		out := map[string]any{}

		if err := p.advanceAnalysis(dbc, run, types.AnalysisGeneratingEmbedding); err != nil {
			return nil, err
		}
		vecs, err := p.ai.Embed(jc.Ctx, []string{run.asset.OriginalFilename, run.version.MimeType})
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if len(vecs) > 0 {
			out["embedding_dims"] = len(vecs[0])
		}

		if err := p.advanceAnalysis(dbc, run, types.AnalysisScoring); err != nil {
			return nil, err
		}
		score, conf, err := p.ai.ScoreQuality(jc.Ctx, map[string]any{
			"filename":   run.asset.OriginalFilename,
			"mime_type":  run.version.MimeType,
			"size_bytes": run.version.SizeBytes,
			"width":      run.version.Width,
			"height":     run.version.Height,
		})
		if err != nil {
			return nil, fmt.Errorf("score quality: %w", err)
		}
		if conf > 0 {
			c := conf
			value := strconv.FormatFloat(score, 'f', 4, 64)
			if err := p.ensureMetadataCandidate(dbc, run, "quality_score", value, types.SourceSystem, &c); err != nil {
				return nil, err
			}
			out["quality_score"] = score
		}

		if isImage(run.version.MimeType) {
			data, err := p.loadOriginal(jc, run)
			if err != nil {
				return nil, err
			}
			labels, err := p.labeler.DetectLabels(jc.Ctx, data, maxVisionLabels)
			if err != nil {
				return nil, fmt.Errorf("detect labels: %w", err)
			}
			for _, lb := range labels {
				c := lb.Confidence
				if err := p.ensureTagCandidate(dbc, run, lb.Name, types.SourceAI, &c); err != nil {
					return nil, err
				}
			}
			out["labels"] = len(labels)
		}
		return out, nil
	}
}

func (p *Pipeline) stageResolve(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		fields, tags, err := p.resolver.ResolveAsset(dbc, run.asset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"fields_resolved": fields, "tags_resolved": tags}, nil
	}
}

func (p *Pipeline) stageFinalize(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		if run.version.Width != nil && run.version.Height != nil {
			if err := p.setAsset(dbc, run, map[string]interface{}{
				"width":  *run.version.Width,
				"height": *run.version.Height,
			}); err != nil {
				return nil, err
			}
			run.asset.Width = run.version.Width
			run.asset.Height = run.version.Height
		}
		if err := p.advanceAnalysis(dbc, run, types.AnalysisComplete); err != nil {
			return nil, err
		}
		if err := p.setVersion(dbc, run, map[string]interface{}{"pipeline_status": types.PipelineComplete}); err != nil {
			return nil, err
		}
		return map[string]any{"analysis_status": run.asset.AnalysisStatus}, nil
	}
}

// stagePromote makes this version current (the atomic swap for replace
// uploads) and settles asset visibility under the approval gate. Pending and
// rejected assets stay hidden until a reviewer acts.
func (p *Pipeline) stagePromote(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		if !run.version.IsCurrent {
			if err := p.versions.PromoteCurrent(dbc, run.asset.ID, run.version.ID); err != nil {
				return nil, err
			}
			run.version.IsCurrent = true
		}
		status := types.AssetStatusVisible
		if run.asset.ApprovalStatus == types.ApprovalPending || run.asset.ApprovalStatus == types.ApprovalRejected {
			status = types.AssetStatusHidden
		}
		if run.asset.Status != status {
			if err := p.setAsset(dbc, run, map[string]interface{}{"status": status}); err != nil {
				return nil, err
			}
			run.asset.Status = status
		}
		return map[string]any{"is_current": true, "status": status}, nil
	}
}

// -------------------- candidate helpers --------------------

// ensureMetadataCandidate files one exif/system candidate for the tenant
// field named key. Tenants that never defined the field simply don't collect
// that candidate.
func (p *Pipeline) ensureMetadataCandidate(dbc dbctx.Context, run *runState, key, value, source string, confidence *float64) error {
	field, err := p.fieldByKey(dbc, run, key)
	if err != nil {
		return err
	}
	if field == nil {
		return nil
	}
	exists, err := p.candidates.ExistsMetadata(dbc, run.asset.ID, field.ID, source, value)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = p.candidates.CreateMetadata(dbc, []*types.MetadataCandidate{{
		ID:         uuid.New(),
		AssetID:    run.asset.ID,
		FieldID:    field.ID,
		Value:      value,
		Source:     source,
		Confidence: confidence,
	}})
	return err
}

func (p *Pipeline) ensureTagCandidate(dbc dbctx.Context, run *runState, tag, source string, confidence *float64) error {
	if tag == "" {
		return nil
	}
	exists, err := p.candidates.ExistsTag(dbc, run.asset.ID, tag, source)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = p.candidates.CreateTags(dbc, []*types.TagCandidate{{
		ID:         uuid.New(),
		AssetID:    run.asset.ID,
		Tag:        tag,
		Source:     source,
		Confidence: confidence,
	}})
	return err
}

func (p *Pipeline) fieldByKey(dbc dbctx.Context, run *runState, key string) (*types.MetadataField, error) {
	if run.fieldsByKey == nil {
		all, err := p.fields.GetByTenant(dbc, run.asset.TenantID)
		if err != nil {
			return nil, err
		}
		run.fieldsByKey = make(map[string]*types.MetadataField, len(all))
		for _, f := range all {
			run.fieldsByKey[f.Key] = f
		}
	}
	return run.fieldsByKey[key], nil
}
