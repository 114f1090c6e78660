package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/metrics"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/reconcile"
	"ledger/internal/services"
	"ledger/internal/session"
	appweb "ledger/web"
)

// Ledger is the part of the ledger API the views use.
type Ledger interface {
	reconcile.DebtStore

	CreateAccount(ctx context.Context, p session.Principal, a core.Account) (core.Account, error)
	UpdateAccount(ctx context.Context, p session.Principal, a core.Account) (core.Account, error)
	DeleteAccount(ctx context.Context, p session.Principal, id int64) error

	ListBudgets(ctx context.Context, p session.Principal) ([]core.Budget, error)
	CreateBudget(ctx context.Context, p session.Principal, b core.Budget) (core.Budget, error)
	UpdateBudget(ctx context.Context, p session.Principal, b core.Budget) (core.Budget, error)
	CloseBudget(ctx context.Context, p session.Principal, id int64, accountID *int64) error

	ListInvestments(ctx context.Context, p session.Principal) ([]core.Investment, error)
	CreateInvestment(ctx context.Context, p session.Principal, inv core.Investment) (core.Investment, error)
	UpdateInvestment(ctx context.Context, p session.Principal, id int64, ch gateway.InvestmentChange) (core.Investment, error)
	CloseInvestment(ctx context.Context, p session.Principal, id int64, addToAccount bool) error

	ListCredits(ctx context.Context, p session.Principal) ([]core.Credit, error)
	CreateCredit(ctx context.Context, p session.Principal, accountID int64, cr core.Credit) (core.Credit, error)
	DeleteCredit(ctx context.Context, p session.Principal, id int64) error
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Ledger   Ledger
	Auth     *services.AuthService
	Sessions *session.Manager
	Executor *reconcile.Executor
	Logger   *log.Logger
}

// Options tune the HTTP surface.
type Options struct {
	Addr            string
	TrustedProxies  []string
	RateLimitRPS    float64
	RateLimitBurst  int
	CacheTTL        time.Duration
	CacheMaxEntries int
	MetricsEnabled  bool
	Checks          []ReadinessCheck
}

type Server struct {
	http.Server
	templates *template.Template

	ledger   Ledger
	auth     *services.AuthService
	sessions *session.Manager
	executor *reconcile.Executor
	logger   *log.Logger

	// Account lists feed every account select; keyed by principal email.
	accounts *cache.LRUCache[[]core.Account]
	caches   *cache.Manager

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	checks   []ReadinessCheck
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Ledger == nil || deps.Auth == nil || deps.Sessions == nil || deps.Executor == nil {
		return nil, errors.New("http server: ledger, auth, sessions and executor are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	detector, err := security.NewDetector(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}

	if opts.CacheMaxEntries < 1 {
		opts.CacheMaxEntries = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}

	s := &Server{
		templates: t,
		ledger:    deps.Ledger,
		auth:      deps.Auth,
		sessions:  deps.Sessions,
		executor:  deps.Executor,
		logger:    logger,
		accounts:  cache.NewLRUCache[[]core.Account](opts.CacheMaxEntries, opts.CacheTTL),
		caches:    cache.NewManager(logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: opts.RateLimitRPS,
			Burst:             opts.RateLimitBurst,
		}),
		detector: detector,
		checks:   opts.Checks,
		started:  time.Now(),
	}
	s.tracer = trace.NewMiddleware(logger, detector.ExtractClientIP)
	s.caches.Register(s.accounts)
	s.caches.StartCleanup(time.Minute)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(opts.MetricsEnabled),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

func (s *Server) routes(metricsEnabled bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(log.Middleware(s.logger))
	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware(s.logger))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please slow down.").Write(w)
	}, http.MethodPost, http.MethodPut, http.MethodDelete))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.With(security.StaticAssetMiddleware(3600)).Handle("/static/*", static)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.loadSession)
		r.Use(security.NoStore)

		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(redirectIfAuthenticated)
			r.Get("/login", s.handleLoginPage)
			r.Post("/login", s.handleLogin)
			r.Get("/register", s.handleRegisterPage)
			r.Post("/register", s.handleRegister)
			r.Get("/forgot-password", s.handleForgotPage)
			r.Post("/forgot-password", s.handleForgot)
			r.Get("/reset-password", s.handleResetPage)
			r.Post("/reset-password", s.handleReset)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/", s.handleDashboard)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", s.handleAccounts)
				r.Get("/rows", s.handleAccountRows)
				r.Post("/", s.handleCreateAccount)
				r.Put("/{id}", s.handleUpdateAccount)
				r.Delete("/{id}", s.handleDeleteAccount)
			})

			r.Route("/budgets", func(r chi.Router) {
				r.Get("/", s.handleBudgets)
				r.Get("/rows", s.handleBudgetRows)
				r.Post("/", s.handleCreateBudget)
				r.Put("/{id}", s.handleUpdateBudget)
				r.Post("/{id}/close", s.handleCloseBudget)
			})

			r.Route("/investments", func(r chi.Router) {
				r.Get("/", s.handleInvestments)
				r.Get("/rows", s.handleInvestmentRows)
				r.Post("/", s.handleCreateInvestment)
				r.Post("/{id}/adjust", s.handleAdjustInvestment)
				r.Post("/{id}/close", s.handleCloseInvestment)
			})

			r.Route("/credits", func(r chi.Router) {
				r.Get("/", s.handleCredits)
				r.Get("/rows", s.handleCreditRows)
				r.Post("/", s.handleCreateCredit)
				r.Delete("/{id}", s.handleDeleteCredit)
			})

			r.Get("/lent", s.handleLent)
			r.Route("/debts", func(r chi.Router) {
				r.Get("/", s.handleBorrowed)
				r.Get("/rows", s.handleDebtRows)
				r.Post("/", s.handleCreateDebt)
				r.Get("/{id}/manage", s.handleManageDebt)
				r.Post("/{id}/manage", s.handleSubmitManage)
			})

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", s.handleProfile)
				r.Post("/", s.handleUpdateProfile)
				r.Post("/password", s.handleChangePassword)
				r.Post("/delete", s.handleDeleteProfile)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Page not found").Write(w)
	})
	return r
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func accountsKey(p session.Principal) string {
	return p.Email + ":accounts"
}

// accountOptions returns the principal's accounts for select inputs, served
// from the read cache when possible.
func (s *Server) accountOptions(ctx context.Context, p session.Principal) ([]core.Account, error) {
	if accounts, ok := s.accounts.Get(accountsKey(p)); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return accounts, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	accounts, err := s.ledger.ListAccounts(ctx, p)
	if err != nil {
		return nil, err
	}
	s.accounts.Set(accountsKey(p), accounts)
	return accounts, nil
}

// invalidate drops everything cached for the principal after a mutation.
func (s *Server) invalidate(p session.Principal) {
	s.accounts.DeletePrefix(p.Email + ":")
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady runs every readiness check with a shared deadline.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := "ready\n"
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body += c.Name + ": " + err.Error() + "\n"
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", c.Name, log.FieldError, err)
			continue
		}
		body += c.Name + ": ok\n"
	}
	if status != http.StatusOK {
		body = "not ready\n" + body[len("ready\n"):]
	}
	body += "uptime: " + time.Since(s.started).Truncate(time.Second).String() + "\n"
	body += "rate_limited_clients: " + strconv.Itoa(s.limiter.ActiveClients()) + "\n"

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
