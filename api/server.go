package api

import (
	"context"
	"net/http"
	"time"

	"condor-aog/api/handlers"
	"condor-aog/config"
	"condor-aog/core/auth"
	"condor-aog/core/defects"
	"condor-aog/core/feed"
	"condor-aog/core/fleet"
	"condor-aog/core/incidents"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

// Server wires middleware, routes and handlers over the domain services.
type Server struct {
	cfg       *config.AppConfig
	logger    *utils.Logger
	policy    *rbac.Policy
	provider  *auth.Provider
	sessions  store.SessionStore
	users     store.UsersStore
	audits    store.AuditStore
	directory *fleet.Directory
	engine    *incidents.Engine
	ledger    *defects.Ledger

	authHandler      *handlers.AuthHandler
	fleetHandler     *handlers.FleetHandler
	incidentsHandler *handlers.IncidentsHandler
	defectsHandler   *handlers.DefectsHandler
	staffHandler     *handlers.StaffHandler
	feedHandler      *handlers.FeedHandler

	loginLimiter *requestLimiter
	httpServer   *http.Server
}

type Deps struct {
	Cfg       *config.AppConfig
	Logger    *utils.Logger
	Policy    *rbac.Policy
	Provider  *auth.Provider
	Sessions  store.SessionStore
	Users     store.UsersStore
	Audits    store.AuditStore
	Directory *fleet.Directory
	Engine    *incidents.Engine
	Ledger    *defects.Ledger
	Processor *feed.Processor
}

func NewServer(d Deps) *Server {
	s := &Server{
		cfg:          d.Cfg,
		logger:       d.Logger,
		policy:       d.Policy,
		provider:     d.Provider,
		sessions:     d.Sessions,
		users:        d.Users,
		audits:       d.Audits,
		directory:    d.Directory,
		engine:       d.Engine,
		ledger:       d.Ledger,
		loginLimiter: newLimiter(d.Cfg.Security.LoginBurst, time.Minute),
	}
	s.authHandler = handlers.NewAuthHandler(d.Cfg, d.Provider, d.Policy, d.Logger)
	s.fleetHandler = handlers.NewFleetHandler(d.Directory, d.Logger)
	s.incidentsHandler = handlers.NewIncidentsHandler(d.Engine, d.Logger)
	s.defectsHandler = handlers.NewDefectsHandler(d.Ledger, d.Logger)
	s.staffHandler = handlers.NewStaffHandler(d.Cfg, d.Users, d.Policy, d.Audits, d.Logger)
	if d.Processor != nil {
		s.feedHandler = handlers.NewFeedHandler(d.Processor, d.Logger)
	}
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("listening on %s", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
