package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandvault/dam-backend/internal/activity"
	"github.com/brandvault/dam-backend/internal/approvals"
	activityrepo "github.com/brandvault/dam-backend/internal/data/repos/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	increpo "github.com/brandvault/dam-backend/internal/data/repos/incidents"
	jobsrepo "github.com/brandvault/dam-backend/internal/data/repos/jobs"
	tenantsrepo "github.com/brandvault/dam-backend/internal/data/repos/tenants"
	uploadsrepo "github.com/brandvault/dam-backend/internal/data/repos/uploads"
	"github.com/brandvault/dam-backend/internal/handlers"
	"github.com/brandvault/dam-backend/internal/incidents"
	"github.com/brandvault/dam-backend/internal/jobs/pipeline/assetprocess"
	jobrt "github.com/brandvault/dam-backend/internal/jobs/runtime"
	"github.com/brandvault/dam-backend/internal/jobs/worker"
	"github.com/brandvault/dam-backend/internal/platform/ai"
	"github.com/brandvault/dam-backend/internal/platform/bucket"
	"github.com/brandvault/dam-backend/internal/platform/config"
	"github.com/brandvault/dam-backend/internal/platform/db"
	"github.com/brandvault/dam-backend/internal/platform/envutil"
	"github.com/brandvault/dam-backend/internal/platform/logger"
	"github.com/brandvault/dam-backend/internal/platform/vision"
	"github.com/brandvault/dam-backend/internal/realtime/bus"
	"github.com/brandvault/dam-backend/internal/resolver"
	"github.com/brandvault/dam-backend/internal/server"
	"github.com/brandvault/dam-backend/internal/services"
	"github.com/brandvault/dam-backend/internal/uploads"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Load()
	if err != nil {
		log.Error("Config load failed", "error", err)
		os.Exit(1)
	}

	// Postgres
	pg, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Warn("Auto migration failed", "error", err)
	}
	theDB := pg.DB()

	// Repos
	log.Info("Setting up repos...")
	assetRepo := assetsrepo.NewAssetRepo(theDB, log)
	versionRepo := assetsrepo.NewAssetVersionRepo(theDB, log)
	fieldRepo := assetsrepo.NewMetadataFieldRepo(theDB, log)
	candidateRepo := assetsrepo.NewCandidateRepo(theDB, log)
	metadataRepo := assetsrepo.NewAssetMetadataRepo(theDB, log)
	tagRepo := assetsrepo.NewAssetTagRepo(theDB, log)
	historyRepo := assetsrepo.NewMetadataHistoryRepo(theDB, log)
	commentRepo := assetsrepo.NewApprovalCommentRepo(theDB, log)
	categoryRepo := tenantsrepo.NewCategoryRepo(theDB, log)
	sessionRepo := uploadsrepo.NewUploadSessionRepo(theDB, log)
	incidentRepo := increpo.NewIncidentRepo(theDB, log)
	ticketRepo := increpo.NewSupportTicketRepo(theDB, log)
	jobRunRepo := jobsrepo.NewJobRunRepo(theDB, log)
	jobEventRepo := jobsrepo.NewJobRunEventRepo(theDB, log)
	activityRepo := activityrepo.NewActivityLogRepo(theDB, log)

	// Platform clients. Vision and AI degrade to no-ops when unconfigured;
	// object storage is load-bearing for the pipeline and must come up.
	store, err := bucket.New(log)
	if err != nil {
		log.Error("Bucket init failed", "error", err)
		os.Exit(1)
	}
	labeler, err := vision.New(log)
	if err != nil {
		log.Warn("Vision init failed, labels disabled", "error", err)
		labeler = vision.Nop()
	}
	aiClient, err := ai.New(log)
	if err != nil {
		log.Warn("AI init failed, scoring disabled", "error", err)
		aiClient = ai.Nop()
	}
	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis init failed, realtime disabled", "error", err)
		eventBus = bus.Nop()
	}

	// Services
	log.Info("Setting up services...")
	act := activity.NewWriter(activityRepo, log)
	notifier := services.NewJobNotifier(log, eventBus, jobEventRepo)
	jobService := services.NewJobService(theDB, log, jobRunRepo, notifier)
	versionService := services.NewVersionService(theDB, log, assetRepo, versionRepo, jobService, act)
	candidateResolver := resolver.New(theDB, log, candidateRepo, fieldRepo, metadataRepo, tagRepo, historyRepo, act)
	gate := approvals.NewGate(theDB, log, assetRepo, commentRepo, act)
	ledger := incidents.NewLedger(theDB, log, cfg.Incidents, incidentRepo, ticketRepo, versionRepo, jobRunRepo, jobService, act)
	sessionService := uploads.NewSessionService(theDB, log, cfg.Uploads, sessionRepo, assetRepo, versionRepo, categoryRepo, jobService, act)

	// Worker + pipeline
	log.Info("Setting up worker...")
	registry := jobrt.NewRegistry()
	pipeline := assetprocess.New(theDB, log, cfg.Pipeline, assetRepo, versionRepo, fieldRepo, candidateRepo, candidateResolver, store, labeler, aiClient, ledger)
	if err := registry.Register(pipeline); err != nil {
		log.Error("Pipeline registration failed", "error", err)
		os.Exit(1)
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	w := worker.NewWorker(theDB, log, cfg.Worker, jobRunRepo, registry, notifier)
	w.Start(rootCtx)

	// Session sweeper
	go func() {
		ticker := time.NewTicker(cfg.Uploads.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if n, err := sessionService.Sweep(rootCtx); err != nil {
					log.Warn("Session sweep failed", "error", err)
				} else if n > 0 {
					log.Info("Expired upload sessions", "count", n)
				}
			}
		}
	}()

	// Handlers + router
	log.Info("Setting up router...")
	router := server.NewRouter(server.RouterConfig{
		UploadsHandler:   handlers.NewUploadsHandler(sessionService),
		AssetsHandler:    handlers.NewAssetsHandler(assetRepo, versionRepo, metadataRepo, fieldRepo, tagRepo, candidateRepo, candidateResolver, versionService),
		ApprovalsHandler: handlers.NewApprovalsHandler(gate),
		IncidentsHandler: handlers.NewIncidentsHandler(ledger),
		JobsHandler:      handlers.NewJobsHandler(jobService),
		FieldsHandler:    handlers.NewFieldsHandler(fieldRepo),
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
