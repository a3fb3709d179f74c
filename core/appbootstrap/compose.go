package appbootstrap

import (
	"context"
	"database/sql"

	"condor-aog/api"
	"condor-aog/config"
	"condor-aog/core/auth"
	"condor-aog/core/defects"
	"condor-aog/core/events"
	"condor-aog/core/feed"
	"condor-aog/core/fleet"
	"condor-aog/core/incidents"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

// Runtime holds everything the process runs: the HTTP server, the event
// dispatcher, the scheduled jobs and the handles needed to stop them.
type Runtime struct {
	Cfg        *config.AppConfig
	Logger     *utils.Logger
	DB         *sql.DB
	Server     *api.Server
	Dispatcher *events.Dispatcher

	sessions  store.SessionStore
	audits    store.AuditStore
	feed      *feed.Client
	processor *feed.Processor
}

// Compose opens the database, applies migrations and wires every service.
func Compose(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, cfg.DBDriver, logger); err != nil {
		db.Close()
		return nil, err
	}

	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	fleetStore := store.NewFleetStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	chatStore := store.NewChatStore(db)
	defectsStore := store.NewDefectsStore(db)

	policy := rbac.DefaultPolicy()
	manager := auth.NewSessionManager(sessions, cfg, logger)
	provider := auth.NewProvider(users, manager, policy, cfg, audits, logger)

	var sinks []events.Sink
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	dispatcher := events.NewDispatcher(cfg.Notify.QueueSize, logger, sinks...)

	engine := incidents.NewEngine(incidentsStore, fleetStore, chatStore, policy, audits, dispatcher, logger)
	ledger := defects.NewLedger(defectsStore, fleetStore, policy, audits, dispatcher, logger)
	directory := fleet.NewDirectory(fleetStore, policy, audits, logger)

	rt := &Runtime{
		Cfg:        cfg,
		Logger:     logger,
		DB:         db,
		Dispatcher: dispatcher,
		sessions:   sessions,
		audits:     audits,
	}
	rt.processor = feed.NewProcessor(directory, engine, logger)
	if cfg.Feed.Enabled && cfg.Feed.SourceURL != "" {
		rt.feed = feed.NewClient(cfg.Feed)
	}

	rt.Server = api.NewServer(api.Deps{
		Cfg:       cfg,
		Logger:    logger,
		Policy:    policy,
		Provider:  provider,
		Sessions:  sessions,
		Users:     users,
		Audits:    audits,
		Directory: directory,
		Engine:    engine,
		Ledger:    ledger,
		Processor: rt.processor,
	})
	return rt, nil
}
