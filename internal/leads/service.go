// Package leads captures contact requests, syncs them to the CRM and runs
// the follow-up email schedule.
package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/crm"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/mailer"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	defaultSource = "contact"
)

var (
	ErrNotFound      = errors.New("lead not found")
	ErrInvalidLead   = errors.New("invalid lead")
	ErrInvalidStatus = errors.New("invalid lead status")
)

// FollowupOffsets is how long after capture each follow-up email goes out.
var FollowupOffsets = []time.Duration{24 * time.Hour, 72 * time.Hour, 7 * 24 * time.Hour}

var leadStatuses = map[string]bool{
	entities.LeadStatusNew:       true,
	entities.LeadStatusContacted: true,
	entities.LeadStatusQualified: true,
	entities.LeadStatusClosed:    true,
	entities.LeadStatusLost:      true,
}

type Service struct {
	db      interfaces.Database
	crm     crm.Provider
	mail    mailer.Sender
	events  *store.Events
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	db interfaces.Database,
	provider crm.Provider,
	sender mailer.Sender,
	events *store.Events,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
) *Service {
	if provider == nil {
		provider = crm.Noop{}
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Service{
		db:      db,
		crm:     provider,
		mail:    sender,
		events:  events,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) repo() interfaces.Repository {
	return s.db.Repository(entities.LeadSchema)
}

// Input is a lead as submitted by a public form.
type Input struct {
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"omitempty,email,max=254"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	Message      string `json:"message" validate:"omitempty,max=4000"`
	Source       string `json:"source" validate:"omitempty,max=40"`
	PropertyID   string `json:"propertyId" validate:"omitempty,max=64"`
	PageURL      string `json:"pageUrl" validate:"omitempty,max=2048"`
	City         string `json:"city" validate:"omitempty,max=80"`
	ReferralCode string `json:"referralCode" validate:"omitempty,max=16"`
}

// Result reports the stored lead and whether the CRM accepted it.
type Result struct {
	Lead      *entities.Lead `json:"lead"`
	CRMSynced bool           `json:"crmSynced"`
}

func (in Input) validate() (email, phone string, err error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", "", fmt.Errorf("%w: name is required", ErrInvalidLead)
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		addr, perr := mail.ParseAddress(e)
		if perr != nil {
			return "", "", fmt.Errorf("%w: invalid email", ErrInvalidLead)
		}
		email = strings.ToLower(addr.Address)
	}
	if p := strings.TrimSpace(in.Phone); p != "" {
		digits := 0
		for _, r := range p {
			switch {
			case unicode.IsDigit(r):
				digits++
			case strings.ContainsRune(" +-().", r):
			default:
				return "", "", fmt.Errorf("%w: invalid phone", ErrInvalidLead)
			}
		}
		if digits < 7 || digits > 15 {
			return "", "", fmt.Errorf("%w: invalid phone", ErrInvalidLead)
		}
		phone = p
	}
	if email == "" && phone == "" {
		return "", "", fmt.Errorf("%w: email or phone is required", ErrInvalidLead)
	}
	return email, phone, nil
}

// Create stores a lead before anything else so it is never lost, then
// pushes it to the CRM. A CRM failure is recorded on the lead and does not
// fail the call.
func (s *Service) Create(ctx context.Context, in Input) (*Result, error) {
	email, phone, err := in.validate()
	if err != nil {
		return nil, err
	}
	source := strings.ToLower(strings.TrimSpace(in.Source))
	if source == "" {
		source = defaultSource
	}
	now := s.now()

	data := map[string]interface{}{
		"name":       strings.TrimSpace(in.Name),
		"source":     source,
		"status":     entities.LeadStatusNew,
		"crm_status": entities.CRMStatusPending,
	}
	optional := map[string]string{
		"email":         email,
		"phone":         phone,
		"message":       strings.TrimSpace(in.Message),
		"property_id":   strings.TrimSpace(in.PropertyID),
		"page_url":      strings.TrimSpace(in.PageURL),
		"city":          strings.TrimSpace(in.City),
		"referral_code": strings.ToUpper(strings.TrimSpace(in.ReferralCode)),
	}
	for col, v := range optional {
		if v != "" {
			data[col] = v
		}
	}
	if email != "" {
		data["followup_state"] = schedule(now)
	}

	row, err := s.repo().Create(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	lead, err := entities.Decode[entities.Lead](row)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Lead captured", "id", lead.ID, "source", source)
	s.metrics.RecordLeadCreated(ctx, source)
	s.events.Publish(ctx, store.ChannelLeadCreated, map[string]interface{}{
		"id": lead.ID, "name": lead.Name, "source": lead.Source, "city": lead.City,
	})

	lead = s.sync(ctx, lead)
	return &Result{Lead: lead, CRMSynced: lead.CRMStatus == entities.CRMStatusSynced}, nil
}

func schedule(from time.Time) []entities.FollowupStep {
	steps := make([]entities.FollowupStep, len(FollowupOffsets))
	for i, off := range FollowupOffsets {
		steps[i] = entities.FollowupStep{Step: i + 1, DueAt: from.Add(off), Status: entities.FollowupPending}
	}
	return steps
}

// sync pushes lead to the CRM and records the outcome. It returns the lead
// as stored afterwards, or the input lead when that update fails.
func (s *Service) sync(ctx context.Context, lead *entities.Lead) *entities.Lead {
	externalID, err := s.crm.PushLead(ctx, toCRM(lead))
	update := map[string]interface{}{}
	switch {
	case err == nil:
		update["crm_status"] = entities.CRMStatusSynced
		update["crm_id"] = externalID
		update["crm_error"] = nil
	case errors.Is(err, crm.ErrDisabled):
		update["crm_status"] = entities.CRMStatusSkipped
	default:
		s.logger.Warnw("CRM sync failed", "lead_id", lead.ID, "provider", s.crm.Name(), "error", err)
		s.metrics.RecordCRMSyncFailure(ctx, s.crm.Name())
		update["crm_status"] = entities.CRMStatusFailed
		update["crm_error"] = truncate(err.Error(), 500)
	}
	row, uerr := s.repo().Update(ctx, interfaces.StringID(lead.ID), update)
	if uerr != nil {
		s.logger.Warnw("Failed to record CRM status", "lead_id", lead.ID, "error", uerr)
		return lead
	}
	updated, derr := entities.Decode[entities.Lead](row)
	if derr != nil {
		return lead
	}
	return updated
}

// RetrySync pushes a lead that previously failed to reach the CRM.
func (s *Service) RetrySync(ctx context.Context, id string) (*entities.Lead, error) {
	lead, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, lead), nil
}

func toCRM(l *entities.Lead) crm.Lead {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return crm.Lead{
		ID:         l.ID,
		Name:       l.Name,
		Email:      deref(l.Email),
		Phone:      deref(l.Phone),
		Message:    deref(l.Message),
		Source:     l.Source,
		PropertyID: deref(l.PropertyID),
		PageURL:    deref(l.PageURL),
		City:       deref(l.City),
		CreatedAt:  l.CreatedAt,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Service) Get(ctx context.Context, id string) (*entities.Lead, error) {
	row, err := s.repo().GetByID(ctx, interfaces.StringID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return entities.Decode[entities.Lead](row)
}

type ListOptions struct {
	Status    string
	CRMStatus string
	Limit     int
	Offset    int
}

type LeadList struct {
	Leads   []entities.Lead `json:"leads"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

// List pages through leads, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*LeadList, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	opts.Limit = min(opts.Limit, MaxLimit)
	opts.Offset = max(opts.Offset, 0)

	var conds []interfaces.Filter
	if opts.Status != "" {
		conds = append(conds, interfaces.Eq("status", opts.Status))
	}
	if opts.CRMStatus != "" {
		conds = append(conds, interfaces.Eq("crm_status", opts.CRMStatus))
	}
	page, err := s.repo().FindMany(ctx, &interfaces.Query{
		Where:   interfaces.Where(conds...),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "desc"}},
		Limit:   interfaces.Limit(opts.Limit),
		Offset:  &opts.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	leads, err := entities.DecodeAll[entities.Lead](page.Data)
	if err != nil {
		return nil, err
	}
	return &LeadList{
		Leads:   leads,
		Total:   page.Total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: int64(opts.Offset+len(leads)) < page.Total,
	}, nil
}

// Assign hands a lead to an agent. An empty agent unassigns it.
func (s *Service) Assign(ctx context.Context, id, agent string) (*entities.Lead, error) {
	var value interface{}
	if agent = strings.TrimSpace(agent); agent != "" {
		value = agent
	}
	return s.update(ctx, id, map[string]interface{}{"assigned_agent": value})
}

func (s *Service) SetStatus(ctx context.Context, id, status string) (*entities.Lead, error) {
	if !leadStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.update(ctx, id, map[string]interface{}{"status": status})
}

func (s *Service) update(ctx context.Context, id string, data map[string]interface{}) (*entities.Lead, error) {
	row, err := s.repo().Update(ctx, interfaces.StringID(id), data)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	s.logger.Infow("Lead updated", "id", id, "fields", keys(data))
	return entities.Decode[entities.Lead](row)
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// CountSince counts leads captured at or after t.
func (s *Service) CountSince(ctx context.Context, t time.Time) (int64, error) {
	return s.repo().Count(ctx, &interfaces.Query{Where: interfaces.Where(interfaces.Gte("created_at", t))})
}

// HandleWebhook verifies and applies a CRM notification.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*entities.Lead, error) {
	if !s.crm.VerifyWebhook(body, signature) {
		return nil, crm.ErrInvalidSignature
	}
	ev, err := s.crm.ParseWebhook(body)
	if err != nil {
		return nil, err
	}

	var row map[string]interface{}
	if ev.LeadID != "" {
		row, err = s.repo().GetByID(ctx, interfaces.StringID(ev.LeadID))
	} else {
		row, err = s.repo().FindOne(ctx, &interfaces.Query{
			Where: interfaces.Where(interfaces.Eq("crm_id", ev.ExternalID)),
		})
	}
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find webhook lead: %w", err)
	}

	update := map[string]interface{}{"crm_status": entities.CRMStatusSynced}
	if ev.ExternalID != "" {
		update["crm_id"] = ev.ExternalID
	}
	if ev.AssignedAgent != "" {
		update["assigned_agent"] = ev.AssignedAgent
	}
	if st := stageStatus(ev.Stage); st != "" {
		update["status"] = st
	}
	id := fmt.Sprint(row["id"])
	s.logger.Infow("CRM webhook applied", "lead_id", id, "event", ev.Type)
	return s.update(ctx, id, update)
}

// stageStatus maps CRM pipeline stages onto lead statuses.
func stageStatus(stage string) string {
	switch strings.ToLower(strings.TrimSpace(stage)) {
	case "contacted", "attempted contact", "nurture":
		return entities.LeadStatusContacted
	case "qualified", "appointment set", "showing", "active client":
		return entities.LeadStatusQualified
	case "closed", "closed won", "under contract":
		return entities.LeadStatusClosed
	case "lost", "closed lost", "archived", "trash":
		return entities.LeadStatusLost
	}
	return ""
}

func encodeSteps(steps []entities.FollowupStep) (json.RawMessage, error) {
	return json.Marshal(steps)
}
