package assetprocess

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/config"
)

func testRunState(mime string) *runState {
	return &runState{
		asset: &types.Asset{
			ID:             uuid.New(),
			TenantID:       uuid.New(),
			AnalysisStatus: types.AnalysisUploading,
		},
		version: &types.AssetVersion{
			ID:       uuid.New(),
			MimeType: mime,
		},
	}
}

func TestBuildStagesShape(t *testing.T) {
	p := &Pipeline{cfg: config.PipelineConfig{
		StageMaxAttempts: 3,
		StageMinBackoff:  time.Second,
		StageMaxBackoff:  30 * time.Second,
		StageTimeout:     time.Minute,
		ThumbnailMaxDim:  320,
		PreviewMaxDim:    1280,
	}}
	stages := p.buildStages(testRunState("image/png"))

	want := []string{
		"extract_metadata",
		"generate_thumbnails",
		"generate_preview",
		"computed_metadata",
		"resolve_candidates",
		"finalize",
		"promote",
	}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	lastEnd := -1
	for i, s := range stages {
		if s.Name != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], s.Name)
		}
		if s.Run == nil {
			t.Fatalf("stage %s has no Run", s.Name)
		}
		if s.EndPct < s.StartPct || s.EndPct < lastEnd {
			t.Fatalf("stage %s has non-monotonic progress bounds", s.Name)
		}
		lastEnd = s.EndPct
		if s.Retry.MaxAttempts != 3 {
			t.Fatalf("stage %s: expected retry budget from config, got %d", s.Name, s.Retry.MaxAttempts)
		}
	}
	if stages[len(stages)-1].EndPct != 100 {
		t.Fatalf("final stage must end at 100, got %d", stages[len(stages)-1].EndPct)
	}
}

func TestDerivativeStagesSkipNonImages(t *testing.T) {
	p := &Pipeline{cfg: config.PipelineConfig{StageMaxAttempts: 1}}
	stages := p.buildStages(testRunState("application/pdf"))

	byName := map[string]int{}
	for i, s := range stages {
		byName[s.Name] = i
	}
	for _, name := range []string{"generate_thumbnails", "generate_preview"} {
		s := stages[byName[name]]
		if s.Skip == nil {
			t.Fatalf("stage %s has no skip predicate", name)
		}
		skip, err := s.Skip(nil, nil)
		if err != nil {
			t.Fatalf("skip predicate errored: %v", err)
		}
		if !skip {
			t.Fatalf("stage %s should skip for application/pdf", name)
		}
	}
	if s := stages[byName["extract_metadata"]]; s.Skip != nil {
		t.Fatalf("extract_metadata must run for every mime type")
	}
}

func TestIsImage(t *testing.T) {
	cases := map[string]bool{
		"image/png":       true,
		"image/jpeg":      true,
		"IMAGE/WEBP":      true,
		" image/gif ":     true,
		"application/pdf": false,
		"video/mp4":       false,
		"":                false,
	}
	for mime, want := range cases {
		if got := isImage(mime); got != want {
			t.Fatalf("isImage(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestAnalysisRankOrdering(t *testing.T) {
	order := []string{
		types.AnalysisUploading,
		types.AnalysisExtractingMetadata,
		types.AnalysisGeneratingThumbnails,
		types.AnalysisGeneratingEmbedding,
		types.AnalysisScoring,
		types.AnalysisComplete,
	}
	for i := 1; i < len(order); i++ {
		if analysisRank[order[i]] <= analysisRank[order[i-1]] {
			t.Fatalf("%s must rank above %s", order[i], order[i-1])
		}
	}
}

func TestScaleToFit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))

	dst := scaleToFit(src, 320)
	if b := dst.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Fatalf("expected 320x240, got %dx%d", b.Dx(), b.Dy())
	}

	// Portrait orientation caps the height instead.
	tall := image.NewRGBA(image.Rect(0, 0, 480, 640))
	dst = scaleToFit(tall, 320)
	if b := dst.Bounds(); b.Dx() != 240 || b.Dy() != 320 {
		t.Fatalf("expected 240x320, got %dx%d", b.Dx(), b.Dy())
	}

	// Already small enough: untouched.
	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	if dst := scaleToFit(small, 320); dst != small {
		t.Fatalf("small image should pass through unscaled")
	}

	// Result must still encode.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaleToFit(src, 16), &jpeg.Options{Quality: jpegQuality}); err != nil {
		t.Fatalf("encode scaled image: %v", err)
	}
}
