// Package crm pushes captured leads to an external CRM and reads its
// webhooks back.
package crm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by providers that have nowhere to send leads.
	ErrDisabled         = errors.New("crm disabled")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Lead is the CRM's view of a captured contact.
type Lead struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Message    string
	Source     string
	PropertyID string
	PageURL    string
	City       string
	CreatedAt  time.Time
}

// Event is a verified webhook notification about a lead.
type Event struct {
	Type          string
	ExternalID    string
	LeadID        string
	Stage         string
	AssignedAgent string
}

type Provider interface {
	Name() string
	// PushLead creates the lead upstream and returns the CRM's id for it.
	PushLead(ctx context.Context, lead Lead) (string, error)
	VerifyWebhook(body []byte, signature string) bool
	ParseWebhook(body []byte) (*Event, error)
}

// Noop stands in when no CRM is configured.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) PushLead(context.Context, Lead) (string, error) { return "", ErrDisabled }

func (Noop) VerifyWebhook([]byte, string) bool { return false }

func (Noop) ParseWebhook([]byte) (*Event, error) { return nil, ErrDisabled }
