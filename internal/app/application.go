// Package app wires configuration, stores, the ledger client and the
// domain services into a runnable application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/RossBrod/CareCred/internal/app/system"
	"github.com/RossBrod/CareCred/internal/chain"
	"github.com/RossBrod/CareCred/internal/config"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/notify"
	"github.com/RossBrod/CareCred/internal/privacy"
	"github.com/RossBrod/CareCred/internal/services/credits"
	"github.com/RossBrod/CareCred/internal/services/monitor"
	"github.com/RossBrod/CareCred/internal/services/sessions"
	"github.com/RossBrod/CareCred/internal/services/settlement"
	"github.com/RossBrod/CareCred/internal/services/signatures"
	"github.com/RossBrod/CareCred/internal/services/verification"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/internal/storage/memory"
	"github.com/RossBrod/CareCred/internal/storage/postgres"
	"github.com/RossBrod/CareCred/pkg/logger"
)

// Application owns the wired services and their lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *system.Manager

	Store        storage.Store
	Ledger       chain.Ledger
	Directory    *identity.MemoryDirectory
	Sessions     *sessions.Service
	Signatures   *signatures.Service
	Settlement   *settlement.Service
	Verification *verification.Service
	Credits      *credits.Service
	Monitor      *monitor.Service
}

// New wires the application from configuration.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.Config{
		Component: "carecred",
		Level:     cfg.Logging.Level,
		JSON:      cfg.Logging.JSON,
	})

	var store storage.Store
	if cfg.Database.DSN != "" {
		pg, err := postgres.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		store = pg
	} else {
		log.Warn("no database configured, running on the in-memory store")
		store = memory.New()
	}

	hasher, err := privacy.NewHasher([]byte(cfg.Privacy.Salt), cfg.Privacy.LocationPrecision)
	if err != nil {
		return nil, fmt.Errorf("init hasher: %w", err)
	}

	ledgerClient := chain.NewClient(chain.ClientConfig{
		Endpoint:  cfg.Ledger.Endpoint,
		Timeout:   cfg.Ledger.Timeout,
		RateLimit: cfg.Ledger.RateLimit,
	}, log.WithField("component", "chain"))

	directory := identity.NewMemoryDirectory()
	notifier := notify.NewLogSender(log.WithField("component", "notify"))

	creditsSvc := credits.New(store, notifier, credits.Config{RequireConfirmation: true}, log.WithField("component", "credits"))

	sessionsSvc := sessions.New(store, directory, nil, sessions.Config{
		HourlyRate:       cfg.Sessions.HourlyRate,
		MaxDurationHours: cfg.Sessions.MaxDurationHours,
		GeofenceRadiusM:  cfg.Sessions.GeofenceRadiusM,
		MaxAccuracyM:     cfg.Sessions.MaxAccuracyM,
	}, log.WithField("component", "sessions"))

	settlementSvc := settlement.New(store, ledgerClient, sessionsSvc, creditsSvc, settlement.Config{
		MaxRetries:            cfg.Settlement.MaxRetries,
		RetryBackoff:          cfg.Settlement.RetryBackoff,
		ConfirmationThreshold: cfg.Settlement.ConfirmationThreshold,
		PollInterval:          cfg.Settlement.PollInterval,
		QueueSize:             cfg.Settlement.QueueSize,
	}, log.WithField("component", "settlement"))

	signaturesSvc := signatures.New(store, directory, hasher, settlementSvc, sessionsSvc, notifier, signatures.Config{
		Window: cfg.Signatures.Window,
	}, log.WithField("component", "signatures"))
	sessionsSvc.SetSignatureStarter(signaturesSvc)

	verificationSvc := verification.New(store, ledgerClient, hasher, directory, verification.Config{
		ConfirmationThreshold: cfg.Settlement.ConfirmationThreshold,
	}, log.WithField("component", "verification"))
	settlementSvc.SetDuplicateChecker(verificationSvc)

	monitorSvc := monitor.New(store, directory, sessionsSvc, notifier, monitor.Config{
		OvertimeAfter:   cfg.Monitor.OvertimeAfter,
		DriftThresholdM: cfg.Monitor.DriftThresholdM,
		CheckInGrace:    cfg.Monitor.CheckInGrace,
	}, log.WithField("component", "monitor"))

	scheduler := NewScheduler(log.WithField("component", "scheduler"))
	if err := scheduler.Add("signature-sweep", fmt.Sprintf("@every %s", cfg.Signatures.SweepInterval), func(ctx context.Context) {
		if _, err := signaturesSvc.SweepExpired(ctx); err != nil {
			log.WithError(err).Error("signature sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule signature sweep: %w", err)
	}
	if err := scheduler.Add("settlement-replay", fmt.Sprintf("@every %s", cfg.Settlement.PollInterval), func(ctx context.Context) {
		if replayed, err := signaturesSvc.ReplayUncommitted(ctx); err != nil {
			log.WithError(err).Error("settlement replay failed")
		} else if len(replayed) > 0 {
			log.WithField("count", len(replayed)).Info("requeued uncommitted session logs")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule settlement replay: %w", err)
	}
	if err := scheduler.Add("monitor-sweep", cfg.Monitor.SweepSchedule, func(ctx context.Context) {
		if err := monitorSvc.Sweep(ctx); err != nil {
			log.WithError(err).Error("monitor sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule monitor sweep: %w", err)
	}

	manager := system.NewManager(log.WithField("component", "system"))
	manager.Register(settlementSvc)
	manager.Register(scheduler)
	manager.Register(NewHTTPServer(cfg.Server.Addr, ledgerClient, log.WithField("component", "http")))

	return &Application{
		cfg:          cfg,
		log:          log,
		manager:      manager,
		Store:        store,
		Ledger:       ledgerClient,
		Directory:    directory,
		Sessions:     sessionsSvc,
		Signatures:   signaturesSvc,
		Settlement:   settlementSvc,
		Verification: verificationSvc,
		Credits:      creditsSvc,
		Monitor:      monitorSvc,
	}, nil
}

// Run starts all managed services and blocks until the context is
// cancelled, then shuts down in reverse order.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.StartAll(ctx); err != nil {
		return err
	}
	a.log.Info("carecred pipeline running")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.manager.StopAll(shutdownCtx)
}
