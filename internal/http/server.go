package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cuentas/internal/accounting"
	"cuentas/internal/auth"
	"cuentas/internal/ledger"
	"cuentas/internal/log"
	"cuentas/internal/metrics"
	"cuentas/internal/middleware/ratelimit"
	"cuentas/internal/middleware/security"
	"cuentas/internal/middleware/trace"
	"cuentas/internal/services"
)

const defaultRequestTimeout = 7 * time.Second

// Deps are the collaborators the API is built on. Rates and Ready are
// optional.
type Deps struct {
	Reports      *accounting.Aggregator
	Transactions *services.TransactionService
	Companies    ledger.CompanyStore
	Rates        services.RateProvider
	Ready        func(context.Context) error

	JWTSecret      []byte
	RateLimitRPM   int
	RequestTimeout time.Duration
	TrustedProxies []string
	// Location is where query dates are interpreted.
	Location *time.Location
}

type Server struct {
	http.Server
	deps     Deps
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector

	stopCleanup  context.CancelFunc
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}

	cfg := ratelimit.DefaultConfig()
	if deps.RateLimitRPM > 0 {
		cfg.RequestsPerMinute = deps.RateLimitRPM
	}

	s := &Server{
		deps:     deps,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(cfg),
		detector: security.NewDetector(logger),
	}
	for _, cidr := range deps.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring trusted proxy", "cidr", cidr, log.FieldError, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopCleanup = cancel
	go s.limiter.RunCleanup(ctx, cfg.CleanupInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/reports/income-statement", s.handleIncomeStatement)
	mux.HandleFunc("GET /api/v1/reports/income-statement/export", s.handleIncomeStatementExport)
	mux.HandleFunc("GET /api/v1/reports/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/v1/reports/vat", s.handleVATSummary)
	mux.HandleFunc("GET /api/v1/reports/vat/export", s.handleVATSummaryExport)
	mux.HandleFunc("GET /api/v1/reports/categories", s.handleCategoryBreakdown)
	mux.HandleFunc("GET /api/v1/reports/savings-rate", s.handleSavingsRate)

	mux.HandleFunc("GET /api/v1/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/v1/transactions", s.handleCreateTransaction)
	mux.HandleFunc("PUT /api/v1/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("GET /api/v1/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/v1/categories", s.handleCreateCategory)

	mux.HandleFunc("GET /api/v1/fx/usd", s.handleDollarRate)

	policy := auth.NewPolicy([]string{"/healthz", "/readyz", "/metrics"}, nil)
	authn := auth.NewMiddleware(deps.JWTSecret, policy, logger)

	var h http.Handler = mux
	h = s.withTimeout(h)
	h = authn.Wrap(h)
	h = s.limiter.Middleware(s.detector.ExtractClientIP, logger)(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = trace.NewMiddleware(s.detector.ExtractClientIP, logger).Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops background cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCleanup != nil {
			s.stopCleanup()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withTimeout bounds every handler so slow storage cannot hang a request.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.deps.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
