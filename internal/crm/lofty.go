package crm

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/clients"
)

const (
	loftyService = "lofty"
	// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
	SignatureHeader = "x-lofty-signature"
)

type LoftyConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	Timeout       time.Duration
	// RetryBase is the first backoff step for transient push failures.
	RetryBase time.Duration
}

// Lofty talks to the Lofty CRM open API.
type Lofty struct {
	cfg     LoftyConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.SugaredLogger
}

func NewLofty(cfg LoftyConfig, logger *zap.SugaredLogger) *Lofty {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.lofty.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Lofty{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: clients.NewBreaker(loftyService, logger),
		logger:  logger,
	}
}

func (l *Lofty) Name() string { return loftyService }

type loftyLead struct {
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	Phones       []string `json:"phones,omitempty"`
	Source       string   `json:"source"`
	Note         string   `json:"note,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	SourceLeadID string   `json:"sourceLeadId"`
}

type loftyLeadResponse struct {
	LeadID json.Number `json:"leadId"`
}

func (l *Lofty) PushLead(ctx context.Context, lead Lead) (string, error) {
	if l.cfg.APIKey == "" {
		return "", clients.ErrNotConfigured
	}
	first, last, _ := strings.Cut(strings.TrimSpace(lead.Name), " ")
	body := loftyLead{
		FirstName:    first,
		LastName:     strings.TrimSpace(last),
		Source:       "Havenly " + lead.Source,
		Note:         leadNote(lead),
		SourceLeadID: lead.ID,
	}
	if lead.Email != "" {
		body.Emails = []string{lead.Email}
	}
	if lead.Phone != "" {
		body.Phones = []string{lead.Phone}
	}
	if lead.City != "" {
		body.Tags = []string{lead.City}
	}

	backoff := retry.WithMaxRetries(2, retry.WithJitterPercent(20, retry.NewExponential(l.cfg.RetryBase)))
	var raw []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := clients.NewJSONRequest(ctx, http.MethodPost, l.cfg.BaseURL+"/v1.0/leads", body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "token "+l.cfg.APIKey)
		out, err := clients.Do(l.breaker, l.http, loftyService, req)
		if err != nil {
			if clients.IsTemporary(err) && !errors.Is(err, gobreaker.ErrOpenState) {
				l.logger.Warnw("Lofty push failed; retrying", "lead_id", lead.ID, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return "", err
	}
	var resp loftyLeadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("lofty: decode lead response: %w", err)
	}
	if resp.LeadID == "" {
		return "", fmt.Errorf("lofty: response carried no lead id")
	}
	return resp.LeadID.String(), nil
}

func leadNote(lead Lead) string {
	var parts []string
	if lead.Message != "" {
		parts = append(parts, lead.Message)
	}
	if lead.PropertyID != "" {
		parts = append(parts, "Listing: "+lead.PropertyID)
	}
	if lead.PageURL != "" {
		parts = append(parts, "Page: "+lead.PageURL)
	}
	return strings.Join(parts, "\n")
}

// Sign returns the signature Lofty sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the HMAC-SHA256 of body. An unset secret rejects
// every webhook.
func (l *Lofty) VerifyWebhook(body []byte, signature string) bool {
	if l.cfg.WebhookSecret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(signature)), "sha256=")
	return hmac.Equal([]byte(signature), []byte(Sign(l.cfg.WebhookSecret, body)))
}

type loftyWebhook struct {
	Event        string      `json:"event"`
	LeadID       json.Number `json:"leadId"`
	SourceLeadID string      `json:"sourceLeadId"`
	Stage        string      `json:"stage"`
	Assignee     *struct {
		Name string `json:"name"`
	} `json:"assignee"`
}

func (l *Lofty) ParseWebhook(body []byte) (*Event, error) {
	var hook loftyWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if hook.Event == "" || (hook.LeadID == "" && hook.SourceLeadID == "") {
		return nil, fmt.Errorf("%w: event and lead id are required", ErrInvalidPayload)
	}
	ev := &Event{
		Type:       hook.Event,
		ExternalID: hook.LeadID.String(),
		LeadID:     hook.SourceLeadID,
		Stage:      hook.Stage,
	}
	if hook.Assignee != nil {
		ev.AssignedAgent = strings.TrimSpace(hook.Assignee.Name)
	}
	return ev, nil
}
