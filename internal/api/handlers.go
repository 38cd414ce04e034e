// Package api exposes the Havenly services over HTTP. Every JSON response
// uses the {success, data} or {success, code, message, fields} envelope.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/analytics"
	"github.com/havenly/havenly-backend/internal/auth"
	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/config"
	"github.com/havenly/havenly-backend/internal/content"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/jobs"
	"github.com/havenly/havenly-backend/internal/landing"
	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/listings"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/referrals"
	"github.com/havenly/havenly-backend/internal/settings"
	"github.com/havenly/havenly-backend/internal/store"
	"github.com/havenly/havenly-backend/internal/ws"
)

// maxAudioBytes bounds uploads to the transcription endpoint.
const maxAudioBytes = 25 << 20

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Services bundles the domain services the handlers call.
type Services struct {
	Listings    *listings.Service
	Landing     *landing.Service
	Blog        *blog.Service
	Content     *content.Service
	Referrals   *referrals.Service
	Leads       *leads.Service
	Auth        *auth.Service
	Analytics   *analytics.Service
	Settings    *settings.Service
	Jobs        *jobs.Runner
	Transcriber Transcriber
}

type Handler struct {
	svc      Services
	guard    *auth.Guard
	wsHub    *ws.Hub
	sse      *ws.SSEHandler
	db       interfaces.Database
	cache    *store.Cache
	config   *config.Config
	validate *validator.Validate
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func NewHandler(
	svc Services,
	wsHub *ws.Hub,
	sse *ws.SSEHandler,
	db interfaces.Database,
	cache *store.Cache,
	config *config.Config,
	logger *zap.SugaredLogger,
	metrics *metrics.Metrics,
) *Handler {
	h := &Handler{
		svc:      svc,
		wsHub:    wsHub,
		sse:      sse,
		db:       db,
		cache:    cache,
		config:   config,
		validate: newValidator(),
		logger:   logger,
		metrics:  metrics,
	}
	h.guard = auth.NewGuard(svc.Auth, config.Security.CronSecret, h.deny)
	return h
}

// deny renders guard rejections with the standard envelope.
func (h *Handler) deny(w http.ResponseWriter, r *http.Request, err error) {
	h.writeServiceError(w, r, err)
}

// secureCookies is false only for local development over plain HTTP.
func (h *Handler) secureCookies() bool {
	return !h.config.IsDev()
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pong": true, "time": time.Now().UTC()})
}

// Readyz reports whether the database and cache answer.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "cache": "ok"}
	ready := true
	if !h.db.IsHealthy(ctx) {
		checks["database"] = "unavailable"
		ready = false
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warnw("Cache ping failed", "error", err)
			checks["cache"] = "unavailable"
			ready = false
		}
	}
	if !ready {
		writeFailure(w, http.StatusServiceUnavailable, "not_ready", "Dependencies unavailable", checks)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

// AdminLive upgrades the admin dashboard to the live event websocket.
func (h *Handler) AdminLive(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	h.wsHub.ServeWS(w, r, p.UserID)
}

func (h *Handler) AdminEvents(w http.ResponseWriter, r *http.Request) {
	h.sse.ServeHTTP(w, r)
}

// Transcribe accepts a multipart "audio" file and returns its text.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid_upload", "Expected multipart form with an audio file", nil)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid_upload", "Missing audio file", map[string]string{"audio": "is required"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if len(audio) == 0 {
		writeFailure(w, http.StatusBadRequest, "invalid_upload", "Audio file is empty", map[string]string{"audio": "is empty"})
		return
	}

	text, err := h.svc.Transcriber.Transcribe(r.Context(), header.Filename, audio)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// principal returns the caller set by the auth guard.
func principal(r *http.Request) (*auth.Principal, error) {
	if p := auth.FromContext(r.Context()); p != nil {
		return p, nil
	}
	return nil, errors.New("route is missing its auth guard")
}
