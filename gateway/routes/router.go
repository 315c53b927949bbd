package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"streambadge/gateway/middleware"
)

// Scope names the authenticator enforces per route group.
const (
	ScopeBadgeRead = "badge.read"
	ScopeBadgeRPC  = "badge.rpc"
)

type Config struct {
	NodeTarget    *url.URL
	NodeTimeout   time.Duration
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New builds the gateway handler tree: the typed badge read surface under
// /v1, the raw JSON-RPC passthrough under /rpc, health and metrics beside
// them.
func New(cfg Config) (http.Handler, error) {
	bridge, err := newBadgeRoutes(cfg.NodeTarget, cfg.NodeTimeout)
	if err != nil {
		return nil, fmt.Errorf("configure badge routes: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("badges"))
		}
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware(ScopeBadgeRead))
		}
		if obs != nil {
			sr.Use(obs.Middleware("badges"))
		}
		bridge.mount(sr)
	})

	proxy := NewProxy(cfg.NodeTarget, "/rpc")
	r.Route("/rpc", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("rpc"))
		}
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware(ScopeBadgeRPC))
		}
		if obs != nil {
			sr.Use(obs.Middleware("rpc"))
		}
		sr.Handle("/*", proxy)
		sr.Handle("/", proxy)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
