package api

import (
	"net/http"

	"github.com/havenly/havenly-backend/internal/auth"
)

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var in auth.SignupInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	sess, err := h.svc.Auth.Signup(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	auth.SetCookie(w, sess, h.secureCookies())
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	sess, err := h.svc.Auth.Login(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	auth.SetCookie(w, sess, h.secureCookies())
	writeJSON(w, http.StatusOK, sess)
}

// Logout clears the session cookie. Bearer tokens simply expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearCookie(w, h.secureCookies())
	writeJSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Auth.Me(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Referrals

func (h *Handler) ReferralCode(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	code, err := h.svc.Referrals.GetOrCreateCode(r.Context(), p.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code": code,
		"link": h.config.PublicURL + "/signup?ref=" + code.Code,
	})
}

func (h *Handler) ReferralBalance(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bal, err := h.svc.Referrals.Balance(r.Context(), p.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// MyRewards lists the caller's reward and redemption history.
func (h *Handler) MyRewards(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	rewards, err := h.svc.Referrals.Rewards(r.Context(), p.UserID, "")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	redemptions, err := h.svc.Referrals.Redemptions(r.Context(), p.UserID, "")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": rewards, "redemptions": redemptions})
}

func (h *Handler) RequestReward(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req RewardRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	reward, err := h.svc.Referrals.RequestReward(r.Context(), p.UserID, req.Points, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

// Redeem holds points against the caller's available balance. Overdrawing
// answers 422 insufficient_points.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req RedeemRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	red, err := h.svc.Referrals.Redeem(r.Context(), p.UserID, req.Points, req.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

func (h *Handler) MyFamily(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	fam, err := h.svc.Referrals.FamilyOf(r.Context(), p.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

func (h *Handler) CreateFamily(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req FamilyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	fam, err := h.svc.Referrals.CreateFamily(r.Context(), p.UserID, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fam)
}

func (h *Handler) JoinFamily(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req JoinFamilyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	fam, err := h.svc.Referrals.JoinFamily(r.Context(), p.UserID, req.InviteCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

func (h *Handler) LeaveFamily(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.svc.Referrals.LeaveFamily(r.Context(), p.UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}
