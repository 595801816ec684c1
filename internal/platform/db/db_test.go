package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	types "github.com/brandvault/dam-backend/internal/domain"
)

// The schema must stay driver-portable: the sqlite local profile migrates
// the same structs as postgres, so no column may depend on a
// postgres-only default expression.
func TestAutoMigrateAllSQLite(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrateAll(gdb); err != nil {
		t.Fatalf("migrate on sqlite: %v", err)
	}

	// A full write/read round trip proves the defaults live in code, not
	// in driver-specific DDL.
	now := time.Now()
	tenant := &types.Tenant{ID: uuid.New(), Name: "local", Slug: "local"}
	if err := gdb.Create(tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	incident := &types.Incident{
		ID:             uuid.New(),
		TenantID:       tenant.ID,
		SourceType:     types.IncidentSourceAsset,
		SourceID:       uuid.New(),
		Category:       "thumbnail",
		Severity:       types.SeverityError,
		FailureCount:   1,
		FirstFailureAt: now,
		LastFailureAt:  now,
	}
	if err := gdb.Create(incident).Error; err != nil {
		t.Fatalf("create incident: %v", err)
	}

	var got types.Incident
	if err := gdb.First(&got, "id = ?", incident.ID).Error; err != nil {
		t.Fatalf("read incident: %v", err)
	}
	if got.ID != incident.ID || got.CreatedAt.IsZero() {
		t.Fatalf("round trip lost data: id=%s created_at=%v", got.ID, got.CreatedAt)
	}
}
