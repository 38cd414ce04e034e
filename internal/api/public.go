package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/havenly/havenly-backend/internal/analytics"
	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/crm"
	"github.com/havenly/havenly-backend/internal/landing"
	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/listings"
)

const (
	visitorHeader = "X-Visitor-ID"
	visitorCookie = "hvn_vid"
	similarCount  = 6
	maxWebhook    = 256 << 10
	maxBeacon     = 8 << 10
)

// visitorID identifies an anonymous browser for headline bucketing.
func visitorID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(visitorHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(visitorCookie); err == nil {
		return c.Value
	}
	return ""
}

// Properties

func (h *Handler) SearchProperties(w http.ResponseWriter, r *http.Request) {
	var opts listings.SearchOptions
	if err := decodeQuery(r.URL.Query(), &opts); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.Listings.Search(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Listings.Get(r.Context(), chi.URLParam(r, "listingKey"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) SimilarProperties(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "limit", similarCount)
	props, err := h.svc.Listings.Similar(r.Context(), chi.URLParam(r, "listingKey"), n)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (h *Handler) FeaturedProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.svc.Listings.Featured(r.Context(), r.URL.Query().Get("city"), queryInt(r, "limit", similarCount))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

// Mortgage estimates a monthly payment. Defaults: 20% down, 6.5%, 30 years.
func (h *Handler) Mortgage(w http.ResponseWriter, r *http.Request) {
	est, err := listings.EstimateMortgage(
		queryFloat(r, "price", 0),
		queryFloat(r, "downPct", 20),
		queryFloat(r, "ratePct", 6.5),
		queryInt(r, "years", 30),
	)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// Landing pages

func (h *Handler) LandingKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, landing.Kinds())
}

func (h *Handler) LandingPage(w http.ResponseWriter, r *http.Request) {
	kind, err := landing.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	page, err := h.svc.Landing.Get(r.Context(), chi.URLParam(r, "city"), kind)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Blog

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.Blog.ListPublished(r.Context(), blog.ListOptions{
		Tag:    q.Get("tag"),
		City:   q.Get("city"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Blog.GetPublished(r.Context(), chi.URLParam(r, "slug"), visitorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) VariantClick(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Blog.RecordVariantClick(r.Context(), chi.URLParam(r, "postID"), chi.URLParam(r, "label"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.svc.Blog.ApprovedComments(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// AddComment queues a comment for moderation.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var in blog.CommentInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	c, err := h.svc.Blog.AddComment(r.Context(), chi.URLParam(r, "slug"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Leads and newsletter

// CreateLead stores the lead even when the CRM push fails; crmSynced tells
// the client which happened.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var in leads.Input
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if in.PageURL == "" {
		in.PageURL = r.Referer()
	}
	res, err := h.svc.Leads.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req NewsletterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.svc.Analytics.Subscribe(r.Context(), req.Email, req.Source)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe reads the address from the body or, for email links, the
// "email" query parameter.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		var req NewsletterRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		email = req.Email
	}
	if err := h.svc.Analytics.Unsubscribe(r.Context(), email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unsubscribed": true})
}

// PageView is a fire-and-forget beacon; it always answers 204.
func (h *Handler) PageView(w http.ResponseWriter, r *http.Request) {
	var v analytics.PageView
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBeacon)).Decode(&v); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if v.VisitorID == "" {
		v.VisitorID = visitorID(r)
	}
	v.UserAgent = r.UserAgent()
	h.svc.Analytics.RecordPageView(r.Context(), v)
	w.WriteHeader(http.StatusNoContent)
}

// LoftyWebhook applies CRM stage changes. The raw body is needed for the
// signature check.
func (h *Handler) LoftyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhook))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid_request", "Unreadable body", nil)
		return
	}
	lead, err := h.svc.Leads.HandleWebhook(r.Context(), body, r.Header.Get(crm.SignatureHeader))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"leadId": lead.ID, "status": lead.Status})
}
