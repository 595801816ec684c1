package resolver

import (
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/brandvault/dam-backend/internal/domain"
)

func cand(source, value string, confidence *float64, createdAt time.Time) *types.MetadataCandidate {
	return &types.MetadataCandidate{
		ID:         uuid.New(),
		AssetID:    uuid.New(),
		FieldID:    uuid.New(),
		Value:      value,
		Source:     source,
		Confidence: confidence,
		CreatedAt:  createdAt,
	}
}

func conf(v float64) *float64 { return &v }

func TestPickMetadataWinnerSourcePriority(t *testing.T) {
	now := time.Now()
	got := pickMetadataWinner([]*types.MetadataCandidate{
		cand(types.SourceEXIF, "exif", conf(1.0), now),
		cand(types.SourceSystem, "system", conf(1.0), now),
		cand(types.SourceAI, "ai", conf(0.1), now),
		cand(types.SourceUser, "user", nil, now.Add(-time.Hour)),
	})
	if got.Value != "user" {
		t.Fatalf("user source must beat everything, got %s", got.Value)
	}

	got = pickMetadataWinner([]*types.MetadataCandidate{
		cand(types.SourceEXIF, "exif", conf(0.99), now),
		cand(types.SourceSystem, "system", conf(0.01), now),
	})
	if got.Value != "system" {
		t.Fatalf("system must beat exif regardless of confidence, got %s", got.Value)
	}
}

func TestPickMetadataWinnerConfidenceTiebreak(t *testing.T) {
	now := time.Now()
	got := pickMetadataWinner([]*types.MetadataCandidate{
		cand(types.SourceAI, "low", conf(0.4), now),
		cand(types.SourceAI, "high", conf(0.9), now.Add(-time.Hour)),
	})
	if got.Value != "high" {
		t.Fatalf("higher confidence must win within a source, got %s", got.Value)
	}

	// Missing confidence sorts after any stated confidence.
	got = pickMetadataWinner([]*types.MetadataCandidate{
		cand(types.SourceAI, "unstated", nil, now),
		cand(types.SourceAI, "stated", conf(0.05), now.Add(-time.Hour)),
	})
	if got.Value != "stated" {
		t.Fatalf("stated confidence must beat missing confidence, got %s", got.Value)
	}
}

func TestPickMetadataWinnerRecencyTiebreak(t *testing.T) {
	now := time.Now()
	got := pickMetadataWinner([]*types.MetadataCandidate{
		cand(types.SourceAI, "old", conf(0.5), now.Add(-time.Hour)),
		cand(types.SourceAI, "new", conf(0.5), now),
	})
	if got.Value != "new" {
		t.Fatalf("newer candidate must win the full tie, got %s", got.Value)
	}
}

func TestRankOfUnknownSourceSortsLast(t *testing.T) {
	for _, known := range []string{types.SourceUser, types.SourceAI, types.SourceSystem, types.SourceEXIF} {
		if rankOf(known) >= rankOf("made_up") {
			t.Fatalf("known source %s must outrank unknown sources", known)
		}
	}
	if rankOf(types.SourceUser) >= rankOf(types.SourceAI) ||
		rankOf(types.SourceAI) >= rankOf(types.SourceSystem) ||
		rankOf(types.SourceSystem) >= rankOf(types.SourceEXIF) {
		t.Fatalf("source priority must be user > ai > system > exif")
	}
}

func TestGroupByField(t *testing.T) {
	fieldA := uuid.New()
	fieldB := uuid.New()
	rows := []*types.MetadataCandidate{
		{ID: uuid.New(), FieldID: fieldA},
		{ID: uuid.New(), FieldID: fieldB},
		{ID: uuid.New(), FieldID: fieldA},
	}
	groups := groupByField(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[fieldA]) != 2 || len(groups[fieldB]) != 1 {
		t.Fatalf("unexpected group sizes: %d and %d", len(groups[fieldA]), len(groups[fieldB]))
	}
}
