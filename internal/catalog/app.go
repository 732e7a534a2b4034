package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"MiniShop/pkg/kit"
)

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry

	MetricsEnabled bool
	MetricsToken   string

	// Admin gates /admin and the mutating API. Nil leaves them open.
	Admin *kit.BasicAuth
	// TrustProxy rewrites RemoteAddr from proxy headers before anything keys on it.
	TrustProxy bool
	// Limiter throttles mutating API calls per client IP. Nil disables it.
	Limiter *kit.IPRateLimiter
	// Uploads serves GET /uploads/{filename}; only the local image store sets it.
	Uploads http.Handler
}

func NewHandler(s *Server, deps HTTPDeps) http.Handler {
	r := chi.NewRouter()

	setupMiddleware(r, deps)
	setupMetrics(r, deps)
	setupRoutes(r, s, deps)

	return r
}

func setupMiddleware(r *chi.Mux, deps HTTPDeps) {
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(kit.Recoverer)
	r.Use(kit.Logging(deps.Log))
}

func setupMetrics(r *chi.Mux, deps HTTPDeps) {
	if deps.Registry == nil {
		return
	}

	metrics := kit.NewHTTPMetrics(deps.Registry)
	r.Use(metrics.Middleware(deps.Service, kit.ChiRoutePatternOrPath))

	if !deps.MetricsEnabled {
		return
	}

	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}

func setupRoutes(r *chi.Mux, s *Server, deps HTTPDeps) {
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Get("/", s.storefront)
	r.With(deps.Admin.Middleware).Get("/admin", s.adminPage)

	r.Route("/api/products", func(rr chi.Router) {
		rr.Get("/", s.list)

		rr.Group(func(pr chi.Router) {
			pr.Use(deps.Limiter.Middleware, deps.Admin.Middleware)
			pr.Post("/", s.create)
			pr.Delete("/{id}", s.delete)
		})
	})

	if deps.Uploads != nil {
		r.Method(http.MethodGet, "/uploads/{filename}", deps.Uploads)
	}
}
