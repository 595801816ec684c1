package assetprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/jobs/orchestrator"
	jobrt "github.com/brandvault/dam-backend/internal/jobs/runtime"
	"github.com/brandvault/dam-backend/internal/platform/bucket"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

const jpegQuality = 85

func isImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// stageExtract probes intrinsic properties of the uploaded binary and files
// them on the version plus as exif-source candidates for tenant fields.
func (p *Pipeline) stageExtract(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		if err := p.advanceAnalysis(dbc, run, types.AnalysisExtractingMetadata); err != nil {
			return nil, err
		}

		format := run.version.MimeType
		out := map[string]any{"mime_type": format}

		if isImage(run.version.MimeType) {
			data, err := p.loadOriginal(jc, run)
			if err != nil {
				return nil, err
			}
			cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", run.version.MimeType, err)
			}
			if err := p.versions.UpdateFields(dbc, run.version.ID, map[string]interface{}{
				"width":  cfg.Width,
				"height": cfg.Height,
			}); err != nil {
				return nil, err
			}
			w, h := cfg.Width, cfg.Height
			run.version.Width = &w
			run.version.Height = &h
			format = name
			out["width"] = w
			out["height"] = h

			if err := p.ensureMetadataCandidate(dbc, run, "width", fmt.Sprintf("%d", w), types.SourceEXIF, nil); err != nil {
				return nil, err
			}
			if err := p.ensureMetadataCandidate(dbc, run, "height", fmt.Sprintf("%d", h), types.SourceEXIF, nil); err != nil {
				return nil, err
			}
		}
		if err := p.ensureMetadataCandidate(dbc, run, "format", format, types.SourceEXIF, nil); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *Pipeline) stageThumbnails(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		if err := p.advanceAnalysis(dbc, run, types.AnalysisGeneratingThumbnails); err != nil {
			return nil, err
		}
		if run.asset.ThumbnailStatus != types.ThumbnailCompleted {
			if err := p.setAsset(dbc, run, map[string]interface{}{"thumbnail_status": types.ThumbnailProcessing}); err != nil {
				return nil, err
			}
			run.asset.ThumbnailStatus = types.ThumbnailProcessing
		}

		key := bucket.ThumbnailKey(run.asset.TenantID, run.asset.ID, run.version.ID, p.cfg.ThumbnailMaxDim)
		w, h, err := p.renderDerivative(jc, run, key, p.cfg.ThumbnailMaxDim)
		if err != nil {
			_ = p.setAsset(dbc, run, map[string]interface{}{"thumbnail_status": types.ThumbnailFailed})
			run.asset.ThumbnailStatus = types.ThumbnailFailed
			return nil, err
		}

		if err := p.versions.UpdateFields(dbc, run.version.ID, map[string]interface{}{"thumbnail_path": key}); err != nil {
			return nil, err
		}
		run.version.ThumbnailPath = key
		if err := p.setAsset(dbc, run, map[string]interface{}{"thumbnail_status": types.ThumbnailCompleted}); err != nil {
			return nil, err
		}
		run.asset.ThumbnailStatus = types.ThumbnailCompleted
		return map[string]any{"thumbnail_path": key, "width": w, "height": h}, nil
	}
}

func (p *Pipeline) stagePreview(run *runState) stageFn {
	return func(jc *jobrt.Context, st *orchestrator.State) (map[string]any, error) {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		key := bucket.PreviewKey(run.asset.TenantID, run.asset.ID, run.version.ID)
		w, h, err := p.renderDerivative(jc, run, key, p.cfg.PreviewMaxDim)
		if err != nil {
			return nil, err
		}
		if err := p.versions.UpdateFields(dbc, run.version.ID, map[string]interface{}{"preview_path": key}); err != nil {
			return nil, err
		}
		run.version.PreviewPath = key
		return map[string]any{"preview_path": key, "width": w, "height": h}, nil
	}
}

// renderDerivative downscales the original to fit maxDim and uploads the JPEG
// under key. Re-running just overwrites the same object.
func (p *Pipeline) renderDerivative(jc *jobrt.Context, run *runState, key string, maxDim int) (int, int, error) {
	data, err := p.loadOriginal(jc, run)
	if err != nil {
		return 0, 0, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", run.version.MimeType, err)
	}
	dst := scaleToFit(src, maxDim)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	if err := p.bucket.Upload(jc.Ctx, key, &buf, "image/jpeg"); err != nil {
		return 0, 0, fmt.Errorf("upload %s: %w", key, err)
	}
	b := dst.Bounds()
	return b.Dx(), b.Dy(), nil
}

func (p *Pipeline) loadOriginal(jc *jobrt.Context, run *runState) ([]byte, error) {
	if run.original != nil {
		return run.original, nil
	}
	data, err := p.bucket.Download(jc.Ctx, run.version.FilePath)
	if err != nil {
		return nil, fmt.Errorf("download original %s: %w", run.version.FilePath, err)
	}
	run.original = data
	return data, nil
}

func scaleToFit(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return src
	}
	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}
