package leads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/mailer"
)

const maxFollowupAttempts = 3

// FollowupReport counts what one run of the follow-up job did.
type FollowupReport struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

var followupCopy = []struct{ subject, body string }{
	{
		subject: "Thanks for reaching out to Havenly",
		body:    "Hi %s,\n\nThanks for getting in touch. An agent will reach out shortly. Reply to this email any time with questions about a home or neighborhood.\n\nThe Havenly team",
	},
	{
		subject: "Homes you might like",
		body:    "Hi %s,\n\nWe pulled together new listings that match what you asked about. Reply with a good time for a call and we will walk you through them.\n\nThe Havenly team",
	},
	{
		subject: "Still looking?",
		body:    "Hi %s,\n\nJust checking in. If your plans changed, no problem. If you are still searching, we would love to help you find the right place.\n\nThe Havenly team",
	},
}

// SendDueFollowups emails every open lead whose next follow-up is due. Each
// lead gets at most one email per run; a failed send is retried on later
// runs until it has been attempted three times.
func (s *Service) SendDueFollowups(ctx context.Context, now time.Time) (*FollowupReport, error) {
	page, err := s.repo().FindMany(ctx, &interfaces.Query{
		Where: interfaces.Where(
			interfaces.IsNotNull("followup_state"),
			interfaces.IsNotNull("email"),
			interfaces.In("status", entities.LeadStatusNew, entities.LeadStatusContacted, entities.LeadStatusQualified),
		),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("load follow-up leads: %w", err)
	}

	report := &FollowupReport{}
	for _, row := range page.Data {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		lead, err := entities.Decode[entities.Lead](row)
		if err != nil {
			s.logger.Warnw("Skipping undecodable lead", "id", row["id"], "error", err)
			continue
		}
		steps, err := lead.Followups()
		if err != nil {
			s.logger.Warnw("Skipping lead with bad follow-up state", "id", lead.ID, "error", err)
			continue
		}
		idx := nextDue(steps, now)
		if idx < 0 {
			continue
		}
		report.Checked++

		step := &steps[idx]
		step.Attempts++
		if err := s.mail.Send(ctx, followupMessage(lead, step.Step)); err != nil {
			step.Error = truncate(err.Error(), 300)
			if step.Attempts >= maxFollowupAttempts {
				step.Status = entities.FollowupFailed
			}
			report.Failed++
			s.logger.Warnw("Follow-up email failed", "lead_id", lead.ID, "step", step.Step, "attempt", step.Attempts, "error", err)
		} else {
			sentAt := now.UTC()
			step.Status = entities.FollowupSent
			step.SentAt = &sentAt
			step.Error = ""
			report.Sent++
		}

		state, err := encodeSteps(steps)
		if err != nil {
			return report, err
		}
		if _, err := s.repo().Update(ctx, interfaces.StringID(lead.ID), map[string]interface{}{"followup_state": state}); err != nil {
			s.logger.Warnw("Failed to save follow-up state", "lead_id", lead.ID, "error", err)
		}
	}

	if report.Sent > 0 {
		s.metrics.RecordFollowupsSent(ctx, int64(report.Sent))
	}
	s.logger.Infow("Follow-up run finished", "checked", report.Checked, "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// nextDue returns the index of the earliest pending step due by now, or -1.
func nextDue(steps []entities.FollowupStep, now time.Time) int {
	for i, st := range steps {
		if st.Status != entities.FollowupPending {
			continue
		}
		if st.DueAt.After(now) {
			return -1
		}
		return i
	}
	return -1
}

func followupMessage(lead *entities.Lead, step int) mailer.Message {
	idx := min(max(step-1, 0), len(followupCopy)-1)
	c := followupCopy[idx]
	first, _, _ := strings.Cut(lead.Name, " ")
	return mailer.Message{
		To:      *lead.Email,
		Subject: c.subject,
		Text:    fmt.Sprintf(c.body, first),
	}
}
