package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/middleware"
	"github.com/neighborwatch/incident-server/internal/services"
)

// RouterConfig carries everything the HTTP layer needs
type RouterConfig struct {
	Incidents     *services.IncidentService
	Comments      *services.CommentService
	Photos        *services.PhotoService
	Feedback      *services.FeedbackService
	Profiles      *services.ProfileService
	Notifications *services.NotificationService
	Stats         *services.StatsService
	Audit         *services.AuditService
	Integrity     *services.IntegrityService

	DB         Pinger
	SearchMode func() string

	JWTSecret      []byte
	AllowedOrigins []string
	Limiter        middleware.Limiter
	IPLimiter      middleware.Limiter
	RetryAfter     time.Duration
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// NewRouter builds the chi router with global middleware and every API route
func NewRouter(cfg RouterConfig, logger *zap.Logger) http.Handler {
	sugar := logger.Sugar()

	incidentHandler := NewIncidentHandler(cfg.Incidents, cfg.Comments, cfg.Photos, cfg.Feedback, cfg.MaxUploadBytes, sugar)
	feedbackHandler := NewFeedbackHandler(cfg.Feedback, sugar)
	userHandler := NewUserHandler(cfg.Profiles, sugar)
	notificationHandler := NewNotificationHandler(cfg.Notifications, sugar)
	statsHandler := NewStatsHandler(cfg.Stats, sugar)
	auditHandler := NewAuditHandler(cfg.Audit, sugar)
	integrityHandler := NewIntegrityHandler(cfg.Integrity, sugar)
	healthHandler := NewHealthHandler(cfg.DB, cfg.Integrity.GetRoot, cfg.SearchMode, sugar)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientInfo())
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.SecureHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Merkle-Root", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		r.Group(func(r chi.Router) {
			// Counted per address before the token is verified, so bad
			// tokens cannot hammer the profile lookup
			if cfg.IPLimiter != nil {
				r.Use(middleware.RateLimit(cfg.IPLimiter, cfg.RetryAfter, sugar))
			}
			r.Use(middleware.RequireAuth(cfg.JWTSecret, cfg.Profiles, sugar))
			// Counted per user once the caller is known
			r.Use(middleware.RateLimit(cfg.Limiter, cfg.RetryAfter, sugar))

			r.Get("/me", userHandler.Me)
			r.Patch("/me", userHandler.UpdateMe)
			r.Get("/me/stats", statsHandler.User)

			r.Route("/incidents", func(r chi.Router) {
				r.Post("/", incidentHandler.Report)
				r.Get("/", incidentHandler.List)
				r.Get("/search", incidentHandler.Search)
				r.Post("/bulk-assign", incidentHandler.BulkAssign)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", incidentHandler.Get)
					r.Get("/transitions", incidentHandler.AllowedTransitions)
					r.Post("/transitions", incidentHandler.Transition)
					r.Post("/assign", incidentHandler.Assign)
					r.Get("/assignments", incidentHandler.Assignments)
					r.Get("/comments", incidentHandler.Comments)
					r.Post("/comments", incidentHandler.AddComment)
					r.Get("/photos", incidentHandler.Photos)
					r.Post("/photos", incidentHandler.UploadPhoto)
					r.Get("/feedback", incidentHandler.Feedback)
					r.Post("/feedback", incidentHandler.SubmitFeedback)
				})
			})

			r.Route("/feedback", func(r chi.Router) {
				r.Get("/", feedbackHandler.List)
				r.Post("/{id}/approve", feedbackHandler.Approve)
				r.Post("/{id}/reject", feedbackHandler.Reject)
				r.Post("/{id}/reporter-approve", feedbackHandler.ReporterApprove)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.Get("/security", userHandler.Security)
				r.Put("/{id}/role", userHandler.SetRole)
				r.Put("/{id}/active", userHandler.SetActive)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Post("/read-all", notificationHandler.MarkAllRead)
				r.Get("/preferences", notificationHandler.Preferences)
				r.Put("/preferences", notificationHandler.UpdatePreferences)
				r.Post("/{id}/read", notificationHandler.MarkRead)
			})

			r.Route("/stats", func(r chi.Router) {
				r.Get("/dashboard", statsHandler.Dashboard)
				r.Get("/admin", statsHandler.Admin)
				r.Get("/categories", statsHandler.Categories)
				r.Get("/trends", statsHandler.Trends)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", auditHandler.Recent)
				r.Get("/{table}/{id}", auditHandler.ForRecord)
			})

			r.Route("/integrity", func(r chi.Router) {
				r.Get("/root", integrityHandler.GetRoot)
				r.Get("/proof/{id}", integrityHandler.GetProof)
				r.Post("/verify", integrityHandler.Verify)
			})
		})
	})

	return r
}
