package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/analytics"
	"github.com/havenly/havenly-backend/internal/auth"
	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/config"
	"github.com/havenly/havenly-backend/internal/content"
	"github.com/havenly/havenly-backend/internal/crm"
	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/jobs"
	"github.com/havenly/havenly-backend/internal/landing"
	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/listings"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/mailer"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/referrals"
	"github.com/havenly/havenly-backend/internal/settings"
	"github.com/havenly/havenly-backend/internal/store"
	"github.com/havenly/havenly-backend/internal/ws"
	memkv "github.com/havenly/havenly-backend/pkg/kv/memory"
)

const (
	testCronSecret = "cron-secret-for-tests"
	adminEmail     = "admin@havenly.test"
)

type mockTranscriber struct{ mock.Mock }

func (m *mockTranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	args := m.Called(ctx, filename, audio)
	return args.String(0), args.Error(1)
}

type apiResponse struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

type harness struct {
	t           *testing.T
	handler     *Handler
	router      http.Handler
	transcriber *mockTranscriber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := log.Nop()
	m := metrics.NewNoop()

	database := db.NewInMemoryDatabase(logger)
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	require.NoError(t, db.SeedFixtures(ctx, database, time.Now().UTC()))

	cache := store.NewCache(memkv.New(0), logger, m)
	broker := store.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	events := store.NewEvents(broker, logger)

	cfg := &config.Config{
		Env:       "test",
		PublicURL: "https://havenly.test",
		Security: config.SecurityConfig{
			LeadRatePerMinute: 3,
			CronSecret:        testCronSecret,
			AdminEmails:       []string{adminEmail},
		},
	}

	tokens, err := auth.NewTokens("test-signing-secret", time.Hour)
	require.NoError(t, err)

	listingSvc := listings.NewService(database, cache, logger)
	settingsSvc := settings.NewService(database, cache, logger)
	referralSvc := referrals.NewService(database, events, logger)
	blogSvc := blog.NewService(database, events, nil, nil, 0, logger, m)
	contentSvc := content.NewService(database, nil, nil, blogSvc, logger)
	leadSvc := leads.NewService(database, crm.Noop{}, mailer.NewLogSender(logger), events, logger, m)
	authSvc := auth.NewService(database, tokens, referralSvc, cfg.Security.AdminEmails, logger)
	transcriber := &mockTranscriber{}

	svc := Services{
		Listings:    listingSvc,
		Landing:     landing.NewService(database, cache, events, listingSvc, nil, nil, settingsSvc, landing.Options{}, logger, m),
		Blog:        blogSvc,
		Content:     contentSvc,
		Referrals:   referralSvc,
		Leads:       leadSvc,
		Auth:        authSvc,
		Analytics:   analytics.NewService(database, events, logger),
		Settings:    settingsSvc,
		Jobs:        jobs.NewRunner(blogSvc, leadSvc, contentSvc, logger),
		Transcriber: transcriber,
	}
	hub := ws.NewHub(broker, nil, logger, m)
	h := NewHandler(svc, hub, ws.NewSSEHandler(broker, logger), database, cache, cfg, logger, m)

	return &harness{
		t:           t,
		handler:     h,
		router:      h.Routes(NewMiddleware(logger, m), nil),
		transcriber: transcriber,
	}
}

// do sends a JSON request. token, when set, is sent as a Bearer header.
func (hs *harness) do(method, path string, body interface{}, token string, headers ...string) (*httptest.ResponseRecorder, apiResponse) {
	hs.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(hs.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return hs.serve(req)
}

func (hs *harness) serve(req *http.Request) (*httptest.ResponseRecorder, apiResponse) {
	hs.t.Helper()
	rec := httptest.NewRecorder()
	hs.router.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(hs.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

// signup registers a user and returns the session token.
func (hs *harness) signup(email string) string {
	hs.t.Helper()
	rec, resp := hs.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": "correct-horse",
		"name":     "Test User",
	}, "")
	require.Equal(hs.t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess struct {
		Token string `json:"token"`
	}
	require.NoError(hs.t, json.Unmarshal(resp.Data, &sess))
	return sess.Token
}

func TestHealthEndpoints(t *testing.T) {
	hs := newHarness(t)

	rec, resp := hs.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = hs.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"database":"ok","cache":"ok"}`, string(resp.Data))

	rec, _ = hs.do(http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPropertySearch(t *testing.T) {
	hs := newHarness(t)

	rec, resp := hs.do(http.MethodGet, "/api/properties?limit=5&sort=price_asc", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res listings.SearchResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 5, res.Pagination.Limit)
	for _, p := range res.Properties {
		assert.Equal(t, "Active", p.Status)
	}

	rec, resp = hs.do(http.MethodGet, "/api/properties?minPrice=cheap", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_request", resp.Code)

	rec, resp = hs.do(http.MethodGet, "/api/properties/NOPE-404", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Code)
}

func TestMortgage(t *testing.T) {
	hs := newHarness(t)

	rec, resp := hs.do(http.MethodGet, "/api/mortgage?price=500000&downPct=20&ratePct=6&years=30", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var est listings.MortgageEstimate
	require.NoError(t, json.Unmarshal(resp.Data, &est))
	assert.Equal(t, "400000.00", est.LoanAmount)
	assert.Equal(t, "2398.20", est.MonthlyPayment)

	rec, _ = hs.do(http.MethodGet, "/api/mortgage?price=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLandingRoutes(t *testing.T) {
	hs := newHarness(t)

	rec, _ := hs.do(http.MethodGet, "/api/landing/kinds", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := hs.do(http.MethodGet, "/api/landing/san-diego/not-a-kind", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", resp.Code)
}

func TestLeadCapture(t *testing.T) {
	hs := newHarness(t)

	rec, resp := hs.do(http.MethodPost, "/api/leads", map[string]string{"email": "not-an-email"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.Equal(t, "is required", resp.Fields["name"])
	assert.Equal(t, "must be a valid email address", resp.Fields["email"])

	rec, resp = hs.do(http.MethodPost, "/api/leads", map[string]string{
		"name":    "Dana Buyer",
		"email":   "Dana@Example.com",
		"message": "Is the condo still available?",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res leads.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.False(t, res.CRMSynced)
	require.NotNil(t, res.Lead.Email)
	assert.Equal(t, "dana@example.com", *res.Lead.Email)

	rec, _ = hs.do(http.MethodPost, "/api/leads", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Three requests per minute per address.
	rec, resp = hs.do(http.MethodPost, "/api/leads", map[string]string{"name": "Spammer"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", resp.Code)
}

func TestNewsletterAndPageViews(t *testing.T) {
	hs := newHarness(t)

	rec, _ := hs.do(http.MethodPost, "/api/newsletter", map[string]string{"email": "reader@example.com"}, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = hs.do(http.MethodDelete, "/api/newsletter?email=reader@example.com", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := hs.do(http.MethodDelete, "/api/newsletter", map[string]string{"email": "stranger@example.com"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Code)

	rec, _ = hs.do(http.MethodPost, "/api/analytics/pageview", map[string]string{"path": "/homes"}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = hs.do(http.MethodPost, "/api/analytics/pageview", "garbage", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	hs := newHarness(t)

	rec, _ := hs.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "new@example.com", "password": "correct-horse", "name": "New",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec, resp := hs.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "NEW@example.com", "password": "correct-horse", "name": "Again",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", resp.Code)

	rec, resp = hs.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "new@example.com", "password": "wrong-password",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	rec, resp = hs.serve(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), "new@example.com")
	assert.NotContains(t, string(resp.Data), "password")

	rec, _ = hs.do(http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = hs.do(http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestAdminRequiresRole(t *testing.T) {
	hs := newHarness(t)
	user := hs.signup("user@example.com")
	admin := hs.signup(adminEmail)

	rec, resp := hs.do(http.MethodGet, "/api/admin/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", resp.Code)

	rec, resp = hs.do(http.MethodGet, "/api/admin/stats", nil, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", resp.Code)

	rec, resp = hs.do(http.MethodGet, "/api/admin/stats", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats analytics.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(1), stats.PublishedPosts)

	rec, _ = hs.do(http.MethodGet, "/api/admin/live", nil, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminPostLifecycle(t *testing.T) {
	hs := newHarness(t)
	admin := hs.signup(adminEmail)

	rec, resp := hs.do(http.MethodPost, "/api/admin/posts", map[string]interface{}{
		"title":     "Closing costs explained",
		"contentMd": "## Budget two to five percent\n\nLender fees and escrow add up.",
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var post struct {
		ID     string `json:"id"`
		Slug   string `json:"slug"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &post))
	assert.Equal(t, "draft", post.Status)

	rec, _ = hs.do(http.MethodGet, "/api/posts/"+post.Slug, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = hs.do(http.MethodPost, "/api/admin/posts/"+post.ID+"/transition", map[string]string{"status": "archived"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Fields["status"], "must be one of")

	rec, _ = hs.do(http.MethodPost, "/api/admin/posts/"+post.ID+"/transition", map[string]string{"status": "published"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp = hs.do(http.MethodGet, "/api/posts/"+post.Slug, nil, "", visitorHeader, "visitor-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), "Closing costs explained")

	rec, _ = hs.do(http.MethodPost, "/api/posts/"+post.Slug+"/comments", map[string]string{
		"authorName": "Sam", "body": "Great list!",
	}, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, resp = hs.do(http.MethodGet, "/api/posts/"+post.Slug+"/comments", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestReferralRedeemWithoutPoints(t *testing.T) {
	hs := newHarness(t)
	user := hs.signup("saver@example.com")

	rec, resp := hs.do(http.MethodGet, "/api/referrals/code", nil, user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), "https://havenly.test/signup?ref=")

	rec, resp = hs.do(http.MethodPost, "/api/referrals/redeem", map[string]int{"points": 50}, user)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_points", resp.Code)

	rec, resp = hs.do(http.MethodPost, "/api/referrals/redeem", map[string]int{"points": 0}, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", resp.Code)

	rec, _ = hs.do(http.MethodGet, "/api/referrals/balance", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCronPublishIsIdempotent(t *testing.T) {
	hs := newHarness(t)

	rec, _ := hs.do(http.MethodPost, "/api/cron/publish", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = hs.do(http.MethodPost, "/api/cron/publish", nil, "", auth.CronSecretHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = hs.do(http.MethodPost, "/api/cron/publish", nil, "", auth.CronSecretHeader, testCronSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp := hs.do(http.MethodPost, "/api/cron/publish", nil, testCronSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	var res jobs.PublishResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Zero(t, res.Published)

	rec, _ = hs.do(http.MethodPost, "/api/cron/followups", nil, testCronSecret)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	hs := newHarness(t)
	rec, resp := hs.do(http.MethodPost, "/api/webhooks/lofty", `{"event":"lead.updated"}`, "", crm.SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", resp.Code)
}

func TestTranscribe(t *testing.T) {
	hs := newHarness(t)
	user := hs.signup("talker@example.com")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "note.webm")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake-audio"))
	require.NoError(t, mw.Close())

	hs.transcriber.On("Transcribe", mock.Anything, "note.webm", []byte("fake-audio")).Return("three bedrooms near the beach", nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/voice/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+user)
	rec, resp := hs.serve(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"text":"three bedrooms near the beach"}`, string(resp.Data))

	rec, _ = hs.do(http.MethodPost, "/api/voice/transcribe", "{}", user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	hs.transcriber.AssertExpectations(t)
}

func TestWriteServiceErrorHidesInternals(t *testing.T) {
	hs := newHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	hs.handler.writeServiceError(rec, req, errors.New("dial tcp 10.0.0.5:5432: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = httptest.NewRecorder()
	hs.handler.writeServiceError(rec, req, referrals.ErrAlreadyInFamily)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
