package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/content"
	"github.com/havenly/havenly-backend/internal/jobs"
	"github.com/havenly/havenly-backend/internal/landing"
	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/listings"
)

// Properties

func (h *Handler) AdminProperties(w http.ResponseWriter, r *http.Request) {
	var opts listings.AdminListOptions
	if err := decodeQuery(r.URL.Query(), &opts); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.Listings.AdminList(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SetPropertyHidden(w http.ResponseWriter, r *http.Request) {
	var req HiddenRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.Listings.SetHidden(r.Context(), chi.URLParam(r, "listingKey"), *req.Hidden)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Listings.Delete(r.Context(), chi.URLParam(r, "listingKey")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Posts

func (h *Handler) AdminPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.Blog.AdminList(r.Context(), blog.ListOptions{
		Status: q.Get("status"),
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

func (h *Handler) AdminPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.svc.Blog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var in blog.PostInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	post, err := h.svc.Blog.Create(r.Context(), in, p.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var in blog.PostInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	post, err := h.svc.Blog.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// TransitionPost moves a post between draft, scheduled and published.
func (h *Handler) TransitionPost(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	post, err := h.svc.Blog.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, req.ScheduledAt)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Blog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) PostVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.svc.Blog.Variants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (h *Handler) AddVariant(w http.ResponseWriter, r *http.Request) {
	var req VariantRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	v, err := h.svc.Blog.AddVariant(r.Context(), chi.URLParam(r, "id"), req.Label, req.Title)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) DeleteVariant(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Blog.DeleteVariant(r.Context(), chi.URLParam(r, "variantID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) PendingComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.svc.Blog.PendingComments(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handler) ModerateComment(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Blog.Moderate(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Landing pages

func (h *Handler) AdminLandingPages(w http.ResponseWriter, r *http.Request) {
	pages, total, err := h.svc.Landing.Stored(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pages": pages, "total": total})
}

// GenerateLanding runs generation for one page. Concurrent requests for the
// same page share a single run.
func (h *Handler) GenerateLanding(w http.ResponseWriter, r *http.Request) {
	kind, err := landing.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req GenerateRequest
	if r.ContentLength > 0 && !h.decodeJSON(w, r, &req) {
		return
	}
	page, err := h.svc.Landing.Generate(r.Context(), chi.URLParam(r, "city"), kind, req.Force)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) InvalidateLanding(w http.ResponseWriter, r *http.Request) {
	kind, err := landing.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.svc.Landing.Invalidate(r.Context(), chi.URLParam(r, "city"), kind); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

// Leads

func (h *Handler) AdminLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.Leads.List(r.Context(), leads.ListOptions{
		Status:    q.Get("status"),
		CRMStatus: q.Get("crmStatus"),
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) AdminLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.svc.Leads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h *Handler) AssignLead(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	lead, err := h.svc.Leads.Assign(r.Context(), chi.URLParam(r, "id"), req.Agent)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h *Handler) SetLeadStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	lead, err := h.svc.Leads.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// RetryLeadSync pushes a lead whose CRM sync failed again.
func (h *Handler) RetryLeadSync(w http.ResponseWriter, r *http.Request) {
	lead, err := h.svc.Leads.RetrySync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// Referral rewards and redemptions

func (h *Handler) AdminRewards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rewards, err := h.svc.Referrals.Rewards(r.Context(), q.Get("userId"), q.Get("status"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *Handler) DecideReward(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	reward, err := h.svc.Referrals.DecideReward(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (h *Handler) AdminRedemptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reds, err := h.svc.Referrals.Redemptions(r.Context(), q.Get("userId"), q.Get("status"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reds)
}

func (h *Handler) DecideRedemption(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	red, err := h.svc.Referrals.DecideRedemption(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

// Settings

func (h *Handler) AdminSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.Settings.All(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) AdminSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.svc.Settings.Get(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req SettingRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	setting, err := h.svc.Settings.Set(r.Context(), chi.URLParam(r, "key"), req.Value, p.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// Content: trend topics and AI drafts

func (h *Handler) Topics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.svc.Content.Topics(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *Handler) AddTopic(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	topic, err := h.svc.Content.AddTopic(r.Context(), req.Term)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (h *Handler) SetTopicStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	topic, err := h.svc.Content.SetTopicStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

// DiscoverTopics pulls the trends feed on demand.
func (h *Handler) DiscoverTopics(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Jobs.DiscoverTopics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DraftTopic generates a draft post from a discovered topic.
func (h *Handler) DraftTopic(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req DraftTopicRequest
	if r.ContentLength > 0 && !h.decodeJSON(w, r, &req) {
		return
	}
	post, err := h.svc.Content.DraftTopic(r.Context(), chi.URLParam(r, "id"), req.City, p.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, content.Templates())
}

// GenerateDraft returns generated copy without saving it.
func (h *Handler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	var req content.DraftRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	draft, err := h.svc.Content.GenerateDraft(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var draft content.Draft
	if !h.decodeJSON(w, r, &draft) {
		return
	}
	post, err := h.svc.Content.SaveDraft(r.Context(), &draft, p.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Analytics.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cron

// CronJob runs one scheduled job on demand. Running publish twice in a row
// is a no-op the second time.
func (h *Handler) CronJob(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			res interface{}
			err error
		)
		switch job {
		case jobs.JobPublish:
			res, err = h.svc.Jobs.PublishScheduled(r.Context())
		case jobs.JobFollowups:
			res, err = h.svc.Jobs.SendFollowups(r.Context())
		case jobs.JobTrends:
			res, err = h.svc.Jobs.DiscoverTopics(r.Context())
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.logger.Infow("Cron job triggered over HTTP", "job", job)
		writeJSON(w, http.StatusOK, res)
	}
}
