package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"dividi/internal/balance"
	"dividi/internal/core"
	applog "dividi/internal/log"
	"dividi/internal/metrics"
	"dividi/internal/middleware/ratelimit"
	"dividi/internal/middleware/security"
	"dividi/internal/middleware/trace"
	"dividi/internal/services"
)

// LedgerService is what the API needs from the balance service.
type LedgerService interface {
	SyncUser(ctx context.Context, u core.User) error
	CheckMember(ctx context.Context, actorID, groupID string) (core.Member, error)
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)

	GroupBalances(ctx context.Context, groupID string) ([]balance.Transaction, error)
	NetBalances(ctx context.Context, groupID string) (balance.NetBalance, error)
	UserBalance(ctx context.Context, userID, groupID string) (*core.Money, error)
	ListGroups(ctx context.Context, userID string) ([]services.GroupSummary, error)
	Dashboard(ctx context.Context, userID string) (*balance.Dashboard, error)
	ExportGroup(ctx context.Context, actorID, groupID string) ([]byte, error)
	Activities(ctx context.Context, actorID, groupID string, limit int) ([]core.Activity, error)

	CreateGroup(ctx context.Context, actorID, name string, simplify bool) (core.Group, error)
	AddMember(ctx context.Context, actorID, groupID, userID string, role core.Role) (core.Member, error)
	RecordExpense(ctx context.Context, actorID string, e core.Expense) (core.Expense, error)
	RecordSettlement(ctx context.Context, actorID string, st core.Settlement) (core.Settlement, error)
	RecordAdjustment(ctx context.Context, actorID string, st core.Settlement) (core.Settlement, error)
	ArchiveGroup(ctx context.Context, actorID, groupID string) (core.Group, error)
	UnarchiveGroup(ctx context.Context, actorID, groupID string) (core.Group, error)
}

type Options struct {
	Logger      *applog.Logger
	JWTSecret   string
	CORSOrigins []string
	RateLimit   ratelimit.Config
	// Ready reports whether dependencies are up. Nil means always ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	svc         LedgerService
	jwtSecret   []byte
	ready       func(context.Context) error
	rateLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

func NewServer(addr string, svc LedgerService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		svc:         svc,
		jwtSecret:   []byte(opts.JWTSecret),
		ready:       opts.Ready,
		rateLimiter: ratelimit.NewLimiter(opts.RateLimit),
	}

	detector := security.NewDetector()
	router := mux.NewRouter()
	router.Use(
		trace.NewMiddleware(opts.Logger, detector.ClientIP).Middleware,
		metrics.Instrument,
		security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware,
		detector.Middleware,
	)

	router.HandleFunc("/healthz", handleHealth).Methods("GET")
	router.HandleFunc("/readyz", s.handleReady).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(
		s.rateLimiter.Middleware(detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		}),
		s.authenticate,
	)

	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/groups", s.handleListGroups).Methods("GET")
	api.HandleFunc("/groups", s.handleCreateGroup).Methods("POST")

	group := api.PathPrefix("/groups/{groupID}").Subrouter()
	group.HandleFunc("/balances", s.handleGroupBalances).Methods("GET")
	group.HandleFunc("/balances/net", s.handleNetBalances).Methods("GET")
	group.HandleFunc("/me", s.handleMyBalance).Methods("GET")
	group.HandleFunc("/export", s.handleExport).Methods("GET")
	group.HandleFunc("/activities", s.handleActivities).Methods("GET")
	group.HandleFunc("/members", s.handleAddMember).Methods("POST")
	group.HandleFunc("/expenses", s.handleRecordExpense).Methods("POST")
	group.HandleFunc("/settlements", s.handleRecordSettlement).Methods("POST")
	group.HandleFunc("/adjustments", s.handleRecordAdjustment).Methods("POST")
	group.HandleFunc("/archive", s.handleArchive).Methods("POST")
	group.HandleFunc("/unarchive", s.handleUnarchive).Methods("POST")

	corsOptions := cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", trace.RequestIDHeader, DevUserHeader},
		ExposedHeaders: []string{trace.RequestIDHeader},
		// Credentials cannot be combined with a wildcard origin.
		AllowCredentials: !containsWildcard(opts.CORSOrigins),
		MaxAge:           600,
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           cors.New(corsOptions).Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.rateLimiter.Stop)
	return s.Server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
