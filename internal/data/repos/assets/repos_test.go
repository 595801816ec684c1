package assets

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brandvault/dam-backend/internal/data/repos/testutil"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

func TestCreateNextAssignsVersionNumbers(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewAssetVersionRepo(tx, testutil.Logger(t))

	tenant := testutil.SeedTenant(t, ctx, tx, "t-versions")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	v1, err := repo.CreateNext(dbc, &types.AssetVersion{
		ID:       uuid.New(),
		AssetID:  asset.ID,
		FilePath: "tenants/t/assets/a/v1/photo.jpg",
		MimeType: "image/jpeg",
	}, true)
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if v1.VersionNumber != 1 || !v1.IsCurrent {
		t.Fatalf("expected current v1, got v%d current=%v", v1.VersionNumber, v1.IsCurrent)
	}

	v2, err := repo.CreateNext(dbc, &types.AssetVersion{
		ID:       uuid.New(),
		AssetID:  asset.ID,
		FilePath: "tenants/t/assets/a/v2/photo.jpg",
		MimeType: "image/jpeg",
	}, false)
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v2.VersionNumber != 2 || v2.IsCurrent {
		t.Fatalf("expected non-current v2, got v%d current=%v", v2.VersionNumber, v2.IsCurrent)
	}

	// v1 keeps serving until v2 is promoted.
	current, err := repo.GetCurrent(dbc, asset.ID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current == nil || current.ID != v1.ID {
		t.Fatalf("expected v1 to stay current before promotion")
	}

	if err := repo.PromoteCurrent(dbc, asset.ID, v2.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	versions, err := repo.ListByAsset(dbc, asset.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	currents := 0
	for _, v := range versions {
		if v.IsCurrent {
			currents++
			if v.ID != v2.ID {
				t.Fatalf("wrong version promoted: v%d", v.VersionNumber)
			}
		}
	}
	if currents != 1 {
		t.Fatalf("exactly one version must be current, got %d", currents)
	}
}

func TestCandidateResolveGuardFiresOnce(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewCandidateRepo(tx, testutil.Logger(t))

	tenant := testutil.SeedTenant(t, ctx, tx, "t-cand-guard")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	field := testutil.SeedMetadataField(t, ctx, tx, tenant.ID, "width")

	rows, err := repo.CreateMetadata(dbc, []*types.MetadataCandidate{{
		ID:      uuid.New(),
		AssetID: asset.ID,
		FieldID: field.ID,
		Value:   "1920",
		Source:  types.SourceEXIF,
	}})
	if err != nil {
		t.Fatalf("create candidate: %v", err)
	}
	cand := rows[0]

	won, err := repo.MarkMetadataResolved(dbc, cand.ID, time.Now())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !won {
		t.Fatalf("first resolve must win the guard")
	}
	won, err = repo.MarkMetadataResolved(dbc, cand.ID, time.Now())
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if won {
		t.Fatalf("second resolve must lose the guard")
	}

	// Resolved candidates cannot be dismissed either.
	won, err = repo.MarkMetadataDismissed(dbc, cand.ID, time.Now())
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if won {
		t.Fatalf("dismiss after resolve must be a no-op")
	}

	open, err := repo.ListOpenMetadataByAsset(dbc, asset.ID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("resolved candidate still listed as open")
	}
}

func TestCandidateExistsBySourceValue(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewCandidateRepo(tx, testutil.Logger(t))

	tenant := testutil.SeedTenant(t, ctx, tx, "t-cand-exists")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	field := testutil.SeedMetadataField(t, ctx, tx, tenant.ID, "format")

	if _, err := repo.CreateMetadata(dbc, []*types.MetadataCandidate{{
		ID:      uuid.New(),
		AssetID: asset.ID,
		FieldID: field.ID,
		Value:   "jpeg",
		Source:  types.SourceEXIF,
	}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err := repo.ExistsMetadata(dbc, asset.ID, field.ID, types.SourceEXIF, "jpeg")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatalf("identical candidate must be detected")
	}
	exists, err = repo.ExistsMetadata(dbc, asset.ID, field.ID, types.SourceEXIF, "png")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("different value must not match")
	}
}

func TestIsPrimaryForCategoryOverride(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewMetadataFieldRepo(tx, testutil.Logger(t))

	tenant := testutil.SeedTenant(t, ctx, tx, "t-primary")
	category := testutil.SeedCategory(t, ctx, tx, tenant.ID, false)
	field := testutil.SeedMetadataField(t, ctx, tx, tenant.ID, "photographer")

	// No override: the global flag applies.
	primary, err := repo.IsPrimaryFor(dbc, field.ID, &category.ID)
	if err != nil {
		t.Fatalf("is primary: %v", err)
	}
	if primary != field.IsPrimary {
		t.Fatalf("without an override the global flag must apply")
	}

	if err := repo.UpsertVisibility(dbc, &types.MetadataFieldVisibility{
		ID:         uuid.New(),
		FieldID:    field.ID,
		CategoryID: category.ID,
		IsPrimary:  true,
	}); err != nil {
		t.Fatalf("upsert visibility: %v", err)
	}
	primary, err = repo.IsPrimaryFor(dbc, field.ID, &category.ID)
	if err != nil {
		t.Fatalf("is primary: %v", err)
	}
	if !primary {
		t.Fatalf("category override must win over the global flag")
	}

	// Other categories still see the global flag.
	other := testutil.SeedCategory(t, ctx, tx, tenant.ID, false)
	primary, err = repo.IsPrimaryFor(dbc, field.ID, &other.ID)
	if err != nil {
		t.Fatalf("is primary: %v", err)
	}
	if primary != field.IsPrimary {
		t.Fatalf("override must be scoped to its category")
	}
}

func TestMetadataUpsertResetsApprovalOnChange(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewAssetMetadataRepo(tx, testutil.Logger(t))

	tenant := testutil.SeedTenant(t, ctx, tx, "t-meta-upsert")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	field := testutil.SeedMetadataField(t, ctx, tx, tenant.ID, "title")

	row, changed, err := repo.Upsert(dbc, &types.AssetMetadata{
		ID:      uuid.New(),
		AssetID: asset.ID,
		FieldID: field.ID,
		Value:   "Summer campaign",
		Source:  types.SourceAI,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !changed {
		t.Fatalf("first upsert must report a change")
	}

	approver := uuid.New()
	if err := repo.Approve(dbc, asset.ID, field.ID, approver, time.Now()); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Same value and source: no-op, approval survives.
	_, changed, err = repo.Upsert(dbc, &types.AssetMetadata{
		AssetID: asset.ID,
		FieldID: field.ID,
		Value:   "Summer campaign",
		Source:  types.SourceAI,
	})
	if err != nil {
		t.Fatalf("noop upsert: %v", err)
	}
	if changed {
		t.Fatalf("identical upsert must be a no-op")
	}
	got, err := repo.GetByAssetField(dbc, asset.ID, field.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ApprovedAt == nil {
		t.Fatalf("no-op upsert must not touch the approval")
	}

	// New value: approval is invalidated.
	_, changed, err = repo.Upsert(dbc, &types.AssetMetadata{
		AssetID: asset.ID,
		FieldID: field.ID,
		Value:   "Winter campaign",
		Source:  types.SourceUser,
	})
	if err != nil {
		t.Fatalf("changed upsert: %v", err)
	}
	if !changed {
		t.Fatalf("new value must report a change")
	}
	if got.ID != row.ID {
		t.Fatalf("upsert must stay on the same row")
	}
	got, err = repo.GetByAssetField(dbc, asset.ID, field.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Value != "Winter campaign" || got.Source != types.SourceUser {
		t.Fatalf("upsert did not apply: %q %s", got.Value, got.Source)
	}
	if got.ApprovedAt != nil || got.ApprovedBy != nil {
		t.Fatalf("changed value must clear the approval")
	}
}
