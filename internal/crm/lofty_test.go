package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/clients"
	"github.com/havenly/havenly-backend/internal/log"
)

func TestLoftyPushLead(t *testing.T) {
	var got loftyLead
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/leads", r.URL.Path)
		assert.Equal(t, "token key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"leadId": 98765}`))
	}))
	defer srv.Close()

	l := NewLofty(LoftyConfig{APIKey: "key-1", BaseURL: srv.URL}, log.Nop())
	id, err := l.PushLead(context.Background(), Lead{
		ID: "lead-1", Name: "Ana Maria Lopez", Email: "ana@example.com",
		Source: "contact", Message: "Tour please", PropertyID: "MAL-1001", City: "Malibu",
	})
	require.NoError(t, err)
	assert.Equal(t, "98765", id)
	assert.Equal(t, "Ana", got.FirstName)
	assert.Equal(t, "Maria Lopez", got.LastName)
	assert.Equal(t, []string{"ana@example.com"}, got.Emails)
	assert.Equal(t, "lead-1", got.SourceLeadID)
	assert.Equal(t, "Tour please\nListing: MAL-1001", got.Note)
}

func TestLoftyPushLeadErrors(t *testing.T) {
	_, err := NewLofty(LoftyConfig{}, log.Nop()).PushLead(context.Background(), Lead{Name: "x"})
	assert.ErrorIs(t, err, clients.ErrNotConfigured)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err = NewLofty(LoftyConfig{APIKey: "k", BaseURL: srv.URL, RetryBase: time.Millisecond}, log.Nop()).PushLead(context.Background(), Lead{Name: "x"})
	var apiErr *clients.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestLoftyPushLeadRecovers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"leadId": 77}`))
	}))
	defer srv.Close()

	id, err := NewLofty(LoftyConfig{APIKey: "k", BaseURL: srv.URL, RetryBase: time.Millisecond}, log.Nop()).
		PushLead(context.Background(), Lead{ID: "l1", Name: "Ana Diaz"})
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLoftyPushLeadDoesNotRetryCallerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewLofty(LoftyConfig{APIKey: "k", BaseURL: srv.URL, RetryBase: time.Millisecond}, log.Nop()).
		PushLead(context.Background(), Lead{Name: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoftyWebhook(t *testing.T) {
	l := NewLofty(LoftyConfig{WebhookSecret: "s3cret"}, log.Nop())
	body := []byte(`{"event":"lead.assigned","leadId":42,"sourceLeadId":"lead-1","stage":"Contacted","assignee":{"name":"Jo Agent"}}`)
	sig := Sign("s3cret", body)

	assert.True(t, l.VerifyWebhook(body, sig))
	assert.True(t, l.VerifyWebhook(body, "sha256="+sig))
	assert.False(t, l.VerifyWebhook(body, Sign("other", body)))
	assert.False(t, l.VerifyWebhook(body, ""))
	assert.False(t, NewLofty(LoftyConfig{}, log.Nop()).VerifyWebhook(body, sig))

	ev, err := l.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, &Event{Type: "lead.assigned", ExternalID: "42", LeadID: "lead-1", Stage: "Contacted", AssignedAgent: "Jo Agent"}, ev)

	_, err = l.ParseWebhook([]byte(`{"event":""}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = l.ParseWebhook([]byte(`nope`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNoop(t *testing.T) {
	var p Provider = Noop{}
	_, err := p.PushLead(context.Background(), Lead{})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, p.VerifyWebhook(nil, "x"))
	assert.Equal(t, "noop", p.Name())
}
