package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/havenly/havenly-backend/internal/analytics"
	"github.com/havenly/havenly-backend/internal/auth"
	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/clients"
	"github.com/havenly/havenly-backend/internal/content"
	"github.com/havenly/havenly-backend/internal/crm"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/landing"
	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/listings"
	"github.com/havenly/havenly-backend/internal/referrals"
	"github.com/havenly/havenly-backend/internal/settings"
)

const maxJSONBody = 1 << 20

type envelope struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: code, Message: message, Fields: fields})
}

// errorRule maps sentinel errors onto a status and a stable code. Rules are
// checked in order; the first match wins.
type errorRule struct {
	status int
	code   string
	errs   []error
}

var errorRules = []errorRule{
	{http.StatusBadRequest, "invalid_request", []error{
		listings.ErrInvalidSearch, landing.ErrUnknownKind, landing.ErrInvalidCity,
		blog.ErrInvalidPost, content.ErrInvalidTopic, content.ErrUnknownTemplate,
		referrals.ErrInvalidCode, referrals.ErrSelfReferral, referrals.ErrInvalidPoints,
		referrals.ErrNotInFamily, referrals.ErrOwnerCannotLeave,
		settings.ErrInvalidKey, leads.ErrInvalidLead, leads.ErrInvalidStatus,
		analytics.ErrInvalidEmail, auth.ErrInvalidInput, crm.ErrInvalidPayload, errBadQuery,
	}},
	{http.StatusUnauthorized, "unauthorized", []error{
		auth.ErrUnauthorized, auth.ErrInvalidCredentials, crm.ErrInvalidSignature,
	}},
	{http.StatusForbidden, "forbidden", []error{auth.ErrForbidden}},
	{http.StatusNotFound, "not_found", []error{
		interfaces.ErrNotFound, listings.ErrNotFound, blog.ErrNotFound, blog.ErrCommentNotFound,
		blog.ErrVariantNotFound, content.ErrTopicNotFound, referrals.ErrNotFound,
		settings.ErrNotFound, leads.ErrNotFound, analytics.ErrNotFound,
	}},
	{http.StatusConflict, "conflict", []error{
		interfaces.ErrUniqueConstraint, auth.ErrEmailTaken, blog.ErrSlugTaken,
		blog.ErrVariantExists, blog.ErrInvalidTransition, referrals.ErrAlreadyReferred,
		referrals.ErrAlreadyInFamily, referrals.ErrInvalidTransition,
	}},
	{http.StatusUnprocessableEntity, "insufficient_points", []error{referrals.ErrInsufficientPoints}},
	{http.StatusServiceUnavailable, "not_configured", []error{clients.ErrNotConfigured, crm.ErrDisabled}},
	{http.StatusBadGateway, "upstream_error", []error{content.ErrEmptyDraft}},
}

// writeServiceError is the single place where service errors become HTTP
// responses. Only 4xx messages reach the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeFailure(w, http.StatusBadRequest, "validation_failed", "Request validation failed", fieldMessages(verrs))
		return
	}

	for _, rule := range errorRules {
		for _, target := range rule.errs {
			if errors.Is(err, target) {
				if rule.status >= 500 {
					h.logger.Warnw("Request failed", "path", r.URL.Path, "code", rule.code, "error", err)
					writeFailure(w, rule.status, rule.code, http.StatusText(rule.status), nil)
					return
				}
				writeFailure(w, rule.status, rule.code, clientMessage(err), nil)
				return
			}
		}
	}

	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		h.logger.Warnw("Upstream call failed", "path", r.URL.Path, "service", apiErr.Service, "status", apiErr.StatusCode)
		writeFailure(w, http.StatusBadGateway, "upstream_error", "An upstream service failed", nil)
		return
	}

	h.logger.Errorw("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeFailure(w, http.StatusInternalServerError, "internal", "Internal server error", nil)
}

// clientMessage capitalises the error text for display.
func clientMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return "Request failed"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func fieldMessages(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		switch fe.Tag() {
		case "required":
			fields[name] = "is required"
		case "email":
			fields[name] = "must be a valid email address"
		case "max":
			fields[name] = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "min":
			fields[name] = fmt.Sprintf("must be at least %s", fe.Param())
		case "oneof":
			fields[name] = fmt.Sprintf("must be one of: %s", fe.Param())
		case "gt", "gte":
			fields[name] = fmt.Sprintf("must be at least %s", fe.Param())
		default:
			fields[name] = "is invalid"
		}
	}
	return fields
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so field errors match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		msg := "Malformed JSON body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		writeFailure(w, http.StatusBadRequest, "invalid_json", msg, nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeServiceError(w, r, err)
		return false
	}
	return true
}

// decodeQuery maps query parameters onto the json-tagged fields of dst.
// Numbers and booleans are parsed from their string form.
func decodeQuery(values url.Values, dst interface{}) error {
	raw := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) > 0 && v[0] != "" {
			raw[k] = v[0]
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", errBadQuery, err)
	}
	return nil
}

var errBadQuery = errors.New("invalid query parameters")

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64); err == nil {
		return v
	}
	return def
}
