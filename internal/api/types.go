package api

import (
	"encoding/json"
	"time"
)

// Request bodies not owned by a service package.

type NewsletterRequest struct {
	Email  string `json:"email" validate:"required,email,max=254"`
	Source string `json:"source" validate:"omitempty,max=40"`
}

type RewardRequest struct {
	Points int64  `json:"points" validate:"gt=0"`
	Reason string `json:"reason" validate:"required,max=200"`
}

type RedeemRequest struct {
	Points int64  `json:"points" validate:"gt=0"`
	Note   string `json:"note" validate:"omitempty,max=500"`
}

type FamilyRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

type JoinFamilyRequest struct {
	InviteCode string `json:"inviteCode" validate:"required,max=16"`
}

type HiddenRequest struct {
	Hidden *bool `json:"hidden" validate:"required"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,max=20"`
}

type TransitionRequest struct {
	Status      string     `json:"status" validate:"required,oneof=draft scheduled published"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type AssignRequest struct {
	Agent string `json:"agent" validate:"required,max=120"`
}

type VariantRequest struct {
	Label string `json:"label" validate:"required,max=8"`
	Title string `json:"title" validate:"required,max=200"`
}

type SettingRequest struct {
	Value json.RawMessage `json:"value" validate:"required"`
}

type TopicRequest struct {
	Term string `json:"term" validate:"required,max=200"`
}

type DraftTopicRequest struct {
	City string `json:"city" validate:"omitempty,max=80"`
}

type GenerateRequest struct {
	Force bool `json:"force"`
}
