package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/crm"
	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/mailer"
	"github.com/havenly/havenly-backend/internal/metrics"
)

type mockProvider struct{ mock.Mock }

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) PushLead(ctx context.Context, lead crm.Lead) (string, error) {
	args := m.Called(ctx, lead)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) VerifyWebhook(body []byte, signature string) bool {
	return m.Called(body, signature).Bool(0)
}

func (m *mockProvider) ParseWebhook(body []byte) (*crm.Event, error) {
	args := m.Called(body)
	ev, _ := args.Get(0).(*crm.Event)
	return ev, args.Error(1)
}

type flakySender struct{ failures int }

func (f *flakySender) Send(ctx context.Context, msg mailer.Message) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp: 421 try later")
	}
	return nil
}

func newService(t *testing.T, provider crm.Provider, sender mailer.Sender) *Service {
	t.Helper()
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(context.Background(), database, db.AllSchemas()))
	return NewService(database, provider, sender, nil, log.Nop(), metrics.NewNoop())
}

func TestCreateValidates(t *testing.T) {
	svc := newService(t, nil, mailer.NewLogSender(log.Nop()))
	ctx := context.Background()

	testCases := []struct {
		name string
		in   Input
	}{
		{"missing name", Input{Email: "a@b.co"}},
		{"no contact", Input{Name: "Ana"}},
		{"bad email", Input{Name: "Ana", Email: "ana@"}},
		{"short phone", Input{Name: "Ana", Phone: "123"}},
		{"letters in phone", Input{Name: "Ana", Phone: "555-CALL-NOW"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			assert.ErrorIs(t, err, ErrInvalidLead)
		})
	}

	res, err := svc.Create(ctx, Input{Name: "Ana", Phone: "+1 (310) 555-0100"})
	require.NoError(t, err)
	assert.Empty(t, res.Lead.FollowupState, "no email, no follow-ups")
	assert.Equal(t, entities.CRMStatusSkipped, res.Lead.CRMStatus)
	assert.False(t, res.CRMSynced)
}

func TestCreateSyncsToCRM(t *testing.T) {
	provider := &mockProvider{}
	svc := newService(t, provider, mailer.NewLogSender(log.Nop()))
	ctx := context.Background()

	provider.On("PushLead", mock.Anything, mock.MatchedBy(func(l crm.Lead) bool {
		return l.Email == "ana@example.com" && l.PropertyID == "MAL-1001" && l.ID != ""
	})).Return("lofty-77", nil).Once()

	res, err := svc.Create(ctx, Input{
		Name: "Ana Lopez", Email: "Ana@Example.com", PropertyID: "MAL-1001", Source: "Listing",
	})
	require.NoError(t, err)
	assert.True(t, res.CRMSynced)
	assert.Equal(t, entities.CRMStatusSynced, res.Lead.CRMStatus)
	require.NotNil(t, res.Lead.CRMID)
	assert.Equal(t, "lofty-77", *res.Lead.CRMID)
	assert.Equal(t, "listing", res.Lead.Source)

	steps, err := res.Lead.Followups()
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 72*time.Hour, steps[1].DueAt.Sub(res.Lead.CreatedAt).Round(time.Hour))
	provider.AssertExpectations(t)
}

func TestCRMFailureKeepsLead(t *testing.T) {
	provider := &mockProvider{}
	svc := newService(t, provider, mailer.NewLogSender(log.Nop()))
	ctx := context.Background()

	provider.On("PushLead", mock.Anything, mock.Anything).Return("", errors.New("lofty: upstream returned 503")).Once()
	res, err := svc.Create(ctx, Input{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.False(t, res.CRMSynced)
	assert.Equal(t, entities.CRMStatusFailed, res.Lead.CRMStatus)
	require.NotNil(t, res.Lead.CRMError)

	stored, err := svc.Get(ctx, res.Lead.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CRMStatusFailed, stored.CRMStatus)

	provider.On("PushLead", mock.Anything, mock.Anything).Return("lofty-1", nil).Once()
	retried, err := svc.RetrySync(ctx, res.Lead.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CRMStatusSynced, retried.CRMStatus)
	assert.Nil(t, retried.CRMError)
}

func TestSendDueFollowups(t *testing.T) {
	sender := mailer.NewLogSender(log.Nop())
	svc := newService(t, nil, sender)
	ctx := context.Background()

	created := time.Now().UTC()
	svc.now = func() time.Time { return created }
	res, err := svc.Create(ctx, Input{Name: "Ana Lopez", Email: "ana@example.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Input{Name: "Bo", Phone: "3105550100"})
	require.NoError(t, err)

	report, err := svc.SendDueFollowups(ctx, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, FollowupReport{}, *report, "nothing due yet")

	report, err = svc.SendDueFollowups(ctx, created.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, sender.Sent(), 1)
	assert.Equal(t, "Thanks for reaching out to Havenly", sender.Sent()[0].Subject)
	assert.Contains(t, sender.Sent()[0].Text, "Hi Ana,")

	report, err = svc.SendDueFollowups(ctx, created.Add(26*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Sent, "step one is not repeated")

	// A week later, the two remaining steps go out on consecutive runs.
	later := created.Add(8 * 24 * time.Hour)
	_, err = svc.SendDueFollowups(ctx, later)
	require.NoError(t, err)
	_, err = svc.SendDueFollowups(ctx, later)
	require.NoError(t, err)
	assert.Len(t, sender.Sent(), 3)

	lead, err := svc.Get(ctx, res.Lead.ID)
	require.NoError(t, err)
	steps, err := lead.Followups()
	require.NoError(t, err)
	for _, st := range steps {
		assert.Equal(t, entities.FollowupSent, st.Status)
		assert.NotNil(t, st.SentAt)
	}
}

func TestFollowupRetriesThenFails(t *testing.T) {
	svc := newService(t, nil, &flakySender{failures: 5})
	ctx := context.Background()
	res, err := svc.Create(ctx, Input{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)

	due := time.Now().Add(25 * time.Hour)
	for i := 0; i < maxFollowupAttempts; i++ {
		report, err := svc.SendDueFollowups(ctx, due)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
	}
	lead, err := svc.Get(ctx, res.Lead.ID)
	require.NoError(t, err)
	steps, err := lead.Followups()
	require.NoError(t, err)
	assert.Equal(t, entities.FollowupFailed, steps[0].Status)
	assert.Equal(t, maxFollowupAttempts, steps[0].Attempts)
	assert.Contains(t, steps[0].Error, "421")

	// The next step is still attempted once due.
	report, err := svc.SendDueFollowups(ctx, time.Now().Add(4*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed+report.Sent)
}

func TestAdminUpdates(t *testing.T) {
	svc := newService(t, nil, mailer.NewLogSender(log.Nop()))
	ctx := context.Background()
	res, err := svc.Create(ctx, Input{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)

	lead, err := svc.Assign(ctx, res.Lead.ID, " Jo Agent ")
	require.NoError(t, err)
	require.NotNil(t, lead.AssignedAgent)
	assert.Equal(t, "Jo Agent", *lead.AssignedAgent)

	_, err = svc.SetStatus(ctx, res.Lead.ID, "married")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	lead, err = svc.SetStatus(ctx, res.Lead.ID, entities.LeadStatusQualified)
	require.NoError(t, err)
	assert.Equal(t, entities.LeadStatusQualified, lead.Status)

	_, err = svc.SetStatus(ctx, "missing", entities.LeadStatusLost)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.List(ctx, ListOptions{Status: entities.LeadStatusQualified})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)

	n, err := svc.CountSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandleWebhook(t *testing.T) {
	provider := &mockProvider{}
	svc := newService(t, provider, mailer.NewLogSender(log.Nop()))
	ctx := context.Background()

	provider.On("PushLead", mock.Anything, mock.Anything).Return("lofty-9", nil)
	res, err := svc.Create(ctx, Input{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)

	body := []byte(`{}`)
	provider.On("VerifyWebhook", body, "bad").Return(false).Once()
	_, err = svc.HandleWebhook(ctx, body, "bad")
	assert.ErrorIs(t, err, crm.ErrInvalidSignature)

	provider.On("VerifyWebhook", body, "good").Return(true)
	provider.On("ParseWebhook", body).Return(&crm.Event{
		Type: "lead.updated", ExternalID: "lofty-9", Stage: "Appointment Set", AssignedAgent: "Jo",
	}, nil).Once()
	lead, err := svc.HandleWebhook(ctx, body, "good")
	require.NoError(t, err)
	assert.Equal(t, res.Lead.ID, lead.ID)
	assert.Equal(t, entities.LeadStatusQualified, lead.Status)
	require.NotNil(t, lead.AssignedAgent)
	assert.Equal(t, "Jo", *lead.AssignedAgent)

	provider.On("ParseWebhook", body).Return(&crm.Event{Type: "lead.updated", ExternalID: "unknown"}, nil).Once()
	_, err = svc.HandleWebhook(ctx, body, "good")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceWithoutMetrics(t *testing.T) {
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(context.Background(), database, db.AllSchemas()))
	provider := &mockProvider{}
	provider.On("PushLead", mock.Anything, mock.Anything).Return("", errors.New("lofty down")).Once()
	svc := NewService(database, provider, mailer.NewLogSender(log.Nop()), nil, log.Nop(), nil)
	ctx := context.Background()

	var res *Result
	require.NotPanics(t, func() {
		var err error
		res, err = svc.Create(ctx, Input{Name: "Ana", Email: "ana@example.com"})
		require.NoError(t, err)
	})
	assert.False(t, res.CRMSynced)

	require.NotPanics(t, func() {
		_, err := svc.SendDueFollowups(ctx, time.Now().Add(30*24*time.Hour))
		require.NoError(t, err)
	})
	provider.AssertExpectations(t)
}
