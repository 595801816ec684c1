package incidents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	increpo "github.com/brandvault/dam-backend/internal/data/repos/incidents"
	jobsrepo "github.com/brandvault/dam-backend/internal/data/repos/jobs"
	"github.com/brandvault/dam-backend/internal/data/repos/testutil"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/config"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/services"
)

type ledgerFixture struct {
	ledger    Ledger
	incidents increpo.IncidentRepo
	tickets   increpo.SupportTicketRepo
	jobRuns   jobsrepo.JobRunRepo
	versions  assetsrepo.AssetVersionRepo
}

func newLedgerFixture(t *testing.T, tx *gorm.DB, cfg config.IncidentsConfig) *ledgerFixture {
	t.Helper()
	log := testutil.Logger(t)
	incidents := increpo.NewIncidentRepo(tx, log)
	tickets := increpo.NewSupportTicketRepo(tx, log)
	jobRuns := jobsrepo.NewJobRunRepo(tx, log)
	versions := assetsrepo.NewAssetVersionRepo(tx, log)
	jobs := services.NewJobService(tx, log, jobRuns, services.NopNotifier())
	return &ledgerFixture{
		ledger:    NewLedger(tx, log, cfg, incidents, tickets, versions, jobRuns, jobs, activity.Nop()),
		incidents: incidents,
		tickets:   tickets,
		jobRuns:   jobRuns,
		versions:  versions,
	}
}

func defaultIncidentsConfig() config.IncidentsConfig {
	return config.IncidentsConfig{EscalationThreshold: 3, OpenWindow: time.Hour}
}

func reportInput(tenantID, assetID uuid.UUID, category string) ReportInput {
	return ReportInput{
		TenantID:   tenantID,
		SourceType: types.IncidentSourceAsset,
		SourceID:   assetID,
		Category:   category,
		Severity:   types.SeverityError,
		Retryable:  true,
		Message:    "thumbnail render blew up",
	}
}

func TestReportDedupsWithinOpenWindow(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-incident-dedup")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	first := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryThumbnail))
	if first == nil {
		t.Fatalf("first report returned nil")
	}
	if first.FailureCount != 1 {
		t.Fatalf("expected failure_count 1, got %d", first.FailureCount)
	}

	second := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryThumbnail))
	if second == nil {
		t.Fatalf("second report returned nil")
	}
	if second.ID != first.ID {
		t.Fatalf("repeat failure must increment the open incident, got a new row")
	}
	if second.FailureCount != 2 {
		t.Fatalf("expected failure_count 2, got %d", second.FailureCount)
	}

	// A different category opens its own row.
	other := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryMetadata))
	if other == nil || other.ID == first.ID {
		t.Fatalf("distinct category must open a distinct incident")
	}

	open, err := fx.ledger.ListOpen(dbc, tenant.ID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open incidents, got %d", len(open))
	}
}

func TestReportAfterOpenWindowStartsNewLineage(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-incident-window")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	first := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryThumbnail))
	if first == nil {
		t.Fatalf("first report returned nil")
	}

	// Age the open incident past the window without resolving it.
	stale := time.Now().Add(-48 * time.Hour)
	if err := tx.Model(&types.Incident{}).Where("id = ?", first.ID).
		Update("last_failure_at", stale).Error; err != nil {
		t.Fatalf("age incident: %v", err)
	}

	second := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryThumbnail))
	if second == nil {
		t.Fatalf("report after the window must still be recorded")
	}
	if second.ID == first.ID {
		t.Fatalf("aged-out lineage must not be incremented")
	}
	if second.FailureCount != 1 {
		t.Fatalf("new lineage starts at failure_count 1, got %d", second.FailureCount)
	}

	// The stale row was retired, so only the fresh one is open.
	old, err := fx.incidents.GetByID(dbc, first.ID)
	if err != nil {
		t.Fatalf("reload stale incident: %v", err)
	}
	if old.ResolvedAt == nil {
		t.Fatalf("aged-out incident must be closed when a new lineage opens")
	}
	open, err := fx.ledger.ListOpen(dbc, tenant.ID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != second.ID {
		t.Fatalf("expected exactly the new lineage open, got %d rows", len(open))
	}
}

func TestReportDropsIncompleteKey(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-incident-drop")

	in := reportInput(tenant.ID, uuid.New(), CategoryThumbnail)
	in.SourceID = uuid.Nil
	if got := fx.ledger.Report(dbc, in); got != nil {
		t.Fatalf("report without source id must be dropped, got %v", got.ID)
	}

	in = reportInput(tenant.ID, uuid.New(), "")
	if got := fx.ledger.Report(dbc, in); got != nil {
		t.Fatalf("report without category must be dropped, got %v", got.ID)
	}

	open, err := fx.ledger.ListOpen(dbc, tenant.ID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("dropped reports must not persist, got %d rows", len(open))
	}
}

func TestEscalationOpensExactlyOneTicket(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-incident-escalate")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	var incident *types.Incident
	for i := 0; i < 4; i++ {
		incident = fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryExtraction))
		if incident == nil {
			t.Fatalf("report %d returned nil", i+1)
		}
	}
	if incident.EscalationTicketID == nil {
		t.Fatalf("incident past threshold must carry an escalation ticket")
	}

	ticket, err := fx.tickets.GetByIncident(dbc, incident.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket == nil {
		t.Fatalf("expected a support ticket for the escalated incident")
	}
	if ticket.Status != types.TicketOpen {
		t.Fatalf("expected open ticket, got %s", ticket.Status)
	}
	if ticket.LastFailureCount != 4 {
		t.Fatalf("ticket failure count must track the incident, got %d", ticket.LastFailureCount)
	}
	if *incident.EscalationTicketID != ticket.ID {
		t.Fatalf("incident stamped with %s but ticket is %s", *incident.EscalationTicketID, ticket.ID)
	}

	var count int64
	if err := tx.Model(&types.SupportTicket{}).Where("incident_id = ?", incident.ID).Count(&count).Error; err != nil {
		t.Fatalf("count tickets: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one ticket, got %d", count)
	}
}

func TestNonEscalatableCategoryNeverTickets(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-incident-quota")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	var incident *types.Incident
	for i := 0; i < 5; i++ {
		incident = fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, "quota"))
	}
	if incident == nil {
		t.Fatalf("report returned nil")
	}
	if incident.EscalationTicketID != nil {
		t.Fatalf("non-escalatable category must never open a ticket")
	}
}

func TestResolveClosesIncident(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-incident-resolve")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	incident := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryMetadata))
	if incident == nil {
		t.Fatalf("report returned nil")
	}
	if err := fx.ledger.Resolve(dbc, incident.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	open, err := fx.ledger.ListOpen(dbc, tenant.ID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("resolved incident still listed as open")
	}

	// A fresh failure after resolution opens a new lineage.
	next := fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryMetadata))
	if next == nil || next.ID == incident.ID {
		t.Fatalf("post-resolution failure must open a new incident")
	}
	if next.FailureCount != 1 {
		t.Fatalf("new lineage starts at failure_count 1, got %d", next.FailureCount)
	}
}

func seedFailedProcessJob(t *testing.T, tx *gorm.DB, dbc dbctx.Context, fx *ledgerFixture, tenantID, versionID uuid.UUID, status string) *types.JobRun {
	t.Helper()
	rows, err := fx.jobRuns.Create(dbc, []*types.JobRun{{
		ID:         uuid.New(),
		TenantID:   tenantID,
		JobType:    services.JobTypeAssetProcess,
		EntityType: "asset_version",
		EntityID:   testutil.PtrUUID(versionID),
		Status:     status,
		Stage:      "generate_thumbnails",
		Attempts:   2,
	}})
	if err != nil {
		t.Fatalf("seed job run: %v", err)
	}
	return rows[0]
}

func TestRetryAssetRestartsFailedJob(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-retry-failed")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	version := testutil.SeedAssetVersion(t, ctx, tx, asset.ID, 1, true)
	seeded := seedFailedProcessJob(t, tx, dbc, fx, tenant.ID, version.ID, types.JobFailed)

	fx.ledger.Report(dbc, reportInput(tenant.ID, asset.ID, CategoryThumbnail))

	job, err := fx.ledger.RetryAsset(dbc, tenant.ID, asset.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if job.ID != seeded.ID {
		t.Fatalf("retry must restart the existing job, got a different run")
	}
	if job.Status != types.JobQueued || job.Attempts != 0 {
		t.Fatalf("restarted job must be queued with attempts reset, got %s attempts=%d", job.Status, job.Attempts)
	}

	reloaded, err := fx.versions.GetByID(dbc, version.ID)
	if err != nil {
		t.Fatalf("reload version: %v", err)
	}
	if reloaded.PipelineStatus != types.PipelineProcessing {
		t.Fatalf("retried version must be processing, got %s", reloaded.PipelineStatus)
	}

	inc, err := fx.incidents.GetOpen(dbc, types.IncidentSourceAsset, asset.ID, CategoryThumbnail)
	if err != nil {
		t.Fatalf("get open incident: %v", err)
	}
	if inc != nil {
		t.Fatalf("retry must resolve the open thumbnail incident")
	}
}

func TestRetryAssetAfterSuccessIsRejected(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-retry-done")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	version := testutil.SeedAssetVersion(t, ctx, tx, asset.ID, 1, true)
	seedFailedProcessJob(t, tx, dbc, fx, tenant.ID, version.ID, types.JobSucceeded)

	if _, err := fx.ledger.RetryAsset(dbc, tenant.ID, asset.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for succeeded pipeline, got %v", err)
	}
}

func TestRetryAssetWithoutJobEnqueues(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-retry-fresh")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	testutil.SeedAssetVersion(t, ctx, tx, asset.ID, 1, true)

	job, err := fx.ledger.RetryAsset(dbc, tenant.ID, asset.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if job == nil || job.JobType != services.JobTypeAssetProcess || job.Status != types.JobQueued {
		t.Fatalf("expected a freshly queued pipeline job, got %+v", job)
	}
}

func TestRetryAssetWithoutVersions(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	fx := newLedgerFixture(t, tx, defaultIncidentsConfig())

	tenant := testutil.SeedTenant(t, ctx, tx, "t-retry-empty")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)

	if _, err := fx.ledger.RetryAsset(dbc, tenant.ID, asset.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for asset without versions, got %v", err)
	}
}
