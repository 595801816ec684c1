package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/envutil"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens the configured database. Postgres is the production driver;
// DB_DRIVER=sqlite gives a file-backed local profile.
func New(baseLog *logger.Logger) (*Service, error) {
	driver := envutil.String("DB_DRIVER", "postgres")
	gcfg := &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := envutil.String("SQLITE_PATH", "dam.db")
		db, err = gorm.Open(sqlite.Open(path), gcfg)
	default:
		dsn := envutil.String("POSTGRES_DSN", "")
		if dsn == "" {
			return nil, fmt.Errorf("missing POSTGRES_DSN")
		}
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open db (%s): %w", driver, err)
	}
	if driver != "sqlite" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("create uuid extension: %w", err)
		}
	}
	return &Service{db: db, log: baseLog.With("component", "DB")}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Tenant{},
		&types.Brand{},
		&types.Category{},

		&types.Asset{},
		&types.AssetVersion{},

		&types.MetadataField{},
		&types.MetadataFieldVisibility{},
		&types.MetadataCandidate{},
		&types.TagCandidate{},
		&types.AssetMetadata{},
		&types.AssetTag{},
		&types.MetadataHistory{},

		&types.UploadSession{},
		&types.Incident{},
		&types.SupportTicket{},
		&types.ApprovalComment{},
		&types.ActivityLog{},

		&types.JobRun{},
		&types.JobRunEvent{},
	)
}
