package mailer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/log"
)

func TestBuildMessage(t *testing.T) {
	plain := buildMessage("Havenly", "hello@havenly.homes", "ana@example.com", Message{Subject: "Hi", Text: "Welcome"})
	assert.Contains(t, plain, "From: Havenly <hello@havenly.homes>\r\n")
	assert.Contains(t, plain, "To: ana@example.com\r\n")
	assert.Contains(t, plain, "Content-Type: text/plain; charset=UTF-8\r\n\r\nWelcome")

	both := buildMessage("Havenly", "hello@havenly.homes", "ana@example.com", Message{Subject: "Café tour", Text: "t", HTML: "<p>h</p>"})
	assert.Contains(t, both, "multipart/alternative")
	assert.Contains(t, both, "Subject: =?utf-8?q?")
	assert.Equal(t, 3, strings.Count(both, "--hvn-"))
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(log.Nop())
	require.NoError(t, s.Send(context.Background(), Message{To: "ana@example.com", Subject: "x"}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{To: "not an address"}), ErrInvalidRecipient)
	require.Len(t, s.Sent(), 1)
	assert.Equal(t, "ana@example.com", s.Sent()[0].To)
}
