package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/havenly/havenly-backend/internal/jobs"
)

const requestTimeout = 30 * time.Second

// Routes builds the router. metricsHandler serves /metrics and may be nil.
func (h *Handler) Routes(m *Middleware, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	sec := h.config.Security

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.CORS(sec.CORSAllowedOrigins))
	r.Use(m.RateLimit(sec.RateLimitRPM))

	// Streaming routes cannot sit behind the timeout or compression.
	r.With(h.guard.RequireAdmin).Get("/api/admin/live", h.AdminLive)
	r.With(h.guard.RequireAdmin).Get("/api/admin/events", h.AdminEvents)

	r.Group(func(r chi.Router) {
		r.Use(m.Compress)
		r.Use(m.Timeout(requestTimeout))

		// Health endpoints
		r.Get("/healthz", h.Healthz)
		r.Get("/readyz", h.Readyz)
		r.Get("/ping", h.Ping)
		if metricsHandler != nil {
			r.Handle("/metrics", metricsHandler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Route("/properties", func(r chi.Router) {
				r.Get("/", h.SearchProperties)
				r.Get("/featured", h.FeaturedProperties)
				r.Get("/{listingKey}", h.GetProperty)
				r.Get("/{listingKey}/similar", h.SimilarProperties)
			})
			r.Get("/mortgage", h.Mortgage)

			r.Route("/landing", func(r chi.Router) {
				r.Get("/kinds", h.LandingKinds)
				r.Get("/{city}/{kind}", h.LandingPage)
			})

			r.Route("/posts", func(r chi.Router) {
				r.Get("/", h.ListPosts)
				r.Get("/{slug}", h.GetPost)
				r.Get("/{slug}/comments", h.ListComments)
				r.Post("/{slug}/comments", h.AddComment)
				r.Post("/variants/{postID}/{label}/click", h.VariantClick)
			})

			r.With(m.PerIPLimit(sec.LeadRatePerMinute)).Post("/leads", h.CreateLead)
			r.Post("/newsletter", h.Subscribe)
			r.Delete("/newsletter", h.Unsubscribe)
			r.Post("/analytics/pageview", h.PageView)
			r.Post("/webhooks/lofty", h.LoftyWebhook)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/signup", h.Signup)
				r.Post("/login", h.Login)
				r.Post("/logout", h.Logout)
				r.With(h.guard.RequireUser).Get("/me", h.Me)
			})

			// Signed-in users
			r.Group(func(r chi.Router) {
				r.Use(h.guard.RequireUser)

				r.Route("/referrals", func(r chi.Router) {
					r.Get("/code", h.ReferralCode)
					r.Get("/balance", h.ReferralBalance)
					r.Get("/rewards", h.MyRewards)
					r.Post("/rewards", h.RequestReward)
					r.Post("/redeem", h.Redeem)
					r.Get("/family", h.MyFamily)
					r.Post("/family", h.CreateFamily)
					r.Post("/family/join", h.JoinFamily)
					r.Delete("/family", h.LeaveFamily)
				})
				r.Post("/voice/transcribe", h.Transcribe)
			})

			r.Route("/cron", func(r chi.Router) {
				r.Use(h.guard.RequireCronSecret)
				r.Post("/publish", h.CronJob(jobs.JobPublish))
				r.Post("/followups", h.CronJob(jobs.JobFollowups))
				r.Post("/trends", h.CronJob(jobs.JobTrends))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.guard.RequireAdmin)

				r.Get("/stats", h.Stats)

				r.Route("/properties", func(r chi.Router) {
					r.Get("/", h.AdminProperties)
					r.Patch("/{listingKey}/hidden", h.SetPropertyHidden)
					r.Delete("/{listingKey}", h.DeleteProperty)
				})

				r.Route("/posts", func(r chi.Router) {
					r.Get("/", h.AdminPosts)
					r.Post("/", h.CreatePost)
					r.Get("/{id}", h.AdminPost)
					r.Put("/{id}", h.UpdatePost)
					r.Delete("/{id}", h.DeletePost)
					r.Post("/{id}/transition", h.TransitionPost)
					r.Get("/{id}/variants", h.PostVariants)
					r.Post("/{id}/variants", h.AddVariant)
					r.Delete("/{id}/variants/{variantID}", h.DeleteVariant)
				})

				r.Get("/comments", h.PendingComments)
				r.Patch("/comments/{id}", h.ModerateComment)

				r.Route("/landing", func(r chi.Router) {
					r.Get("/", h.AdminLandingPages)
					r.Post("/{city}/{kind}/generate", h.GenerateLanding)
					r.Delete("/{city}/{kind}", h.InvalidateLanding)
				})

				r.Route("/leads", func(r chi.Router) {
					r.Get("/", h.AdminLeads)
					r.Get("/{id}", h.AdminLead)
					r.Patch("/{id}/assign", h.AssignLead)
					r.Patch("/{id}/status", h.SetLeadStatus)
					r.Post("/{id}/retry", h.RetryLeadSync)
				})

				r.Get("/rewards", h.AdminRewards)
				r.Patch("/rewards/{id}", h.DecideReward)
				r.Get("/redemptions", h.AdminRedemptions)
				r.Patch("/redemptions/{id}", h.DecideRedemption)

				r.Get("/settings", h.AdminSettings)
				r.Get("/settings/{key}", h.AdminSetting)
				r.Put("/settings/{key}", h.PutSetting)

				r.Route("/topics", func(r chi.Router) {
					r.Get("/", h.Topics)
					r.Post("/", h.AddTopic)
					r.Post("/discover", h.DiscoverTopics)
					r.Patch("/{id}", h.SetTopicStatus)
					r.Post("/{id}/draft", h.DraftTopic)
				})

				r.Route("/drafts", func(r chi.Router) {
					r.Get("/templates", h.Templates)
					r.Post("/generate", h.GenerateDraft)
					r.Post("/", h.SaveDraft)
				})
			})
		})
	})

	return r
}
