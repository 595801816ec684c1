package uploads

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/brandvault/dam-backend/internal/data/repos/testutil"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

func TestAttachAssetWinsOnce(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewUploadSessionRepo(tx, testutil.Logger(t))

	tenant := testutil.SeedTenant(t, ctx, tx, "t-attach")
	session := testutil.SeedUploadSession(t, ctx, tx, tenant.ID, 1000)
	winner := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	loser := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	won, err := repo.AttachAsset(dbc, session.ID, winner.ID)
	if err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if !won {
		t.Fatalf("first attach must win")
	}

	won, err = repo.AttachAsset(dbc, session.ID, loser.ID)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if won {
		t.Fatalf("second attach must lose")
	}

	got, err := repo.GetByID(dbc, session.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.AssetID == nil || *got.AssetID != winner.ID {
		t.Fatalf("session must keep the winning asset")
	}
	if got.Status != types.SessionCompleted {
		t.Fatalf("winning attach must complete the session, got %s", got.Status)
	}
}

func TestAttachAssetRejectsNilIDs(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewUploadSessionRepo(tx, testutil.Logger(t))

	won, err := repo.AttachAsset(dbc, uuid.Nil, uuid.New())
	if err != nil || won {
		t.Fatalf("nil session id must be a no-op, got won=%v err=%v", won, err)
	}
	won, err = repo.AttachAsset(dbc, uuid.New(), uuid.Nil)
	if err != nil || won {
		t.Fatalf("nil asset id must be a no-op, got won=%v err=%v", won, err)
	}
}
