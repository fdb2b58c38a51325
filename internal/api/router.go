package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/api/middleware"
	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/handlers"
	"github.com/eldtechnologies/rankvote/internal/polls"
	"github.com/eldtechnologies/rankvote/internal/store"
)

// Deps are the components the router wires together.
type Deps struct {
	Polls     *polls.Service
	Authority *crypto.Authority
	Store     store.PollStore
	StoreName string
	Gateway   http.Handler

	// Redis backs rate limiting. Nil disables it.
	Redis     *redis.Client
	RateLimit middleware.RateLimiterConfig

	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis, logger, deps.RateLimit)
		r.Use(limiter.Middleware)
	} else {
		logger.Warn().Msg("rate limiting disabled: no redis client")
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Polls, deps.Authority, deps.Store, deps.StoreName, logger)
	auth := middleware.NewAuthMiddleware(deps.Authority)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/health", h.Health)

	r.Route("/polls", func(r chi.Router) {
		r.Post("/", h.CreatePoll)
		r.Post("/join", h.JoinPoll)
		if deps.Gateway != nil {
			r.Handle("/socket", deps.Gateway)
		}

		// Credential-gated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCredential)

			r.Post("/rejoin", h.Rejoin)
			r.Post("/add-participant", h.AddParticipant)
			r.Get("/{id}", h.GetPoll)
		})
	})

	return r
}
