package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/store"
)

func setup(t *testing.T) (*Service, interfaces.Database, *store.MemoryBroker) {
	t.Helper()
	database := db.NewInMemoryDatabase(log.Nop())
	ctx := context.Background()
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	require.NoError(t, db.SeedFixtures(ctx, database, time.Now().UTC()))
	broker := store.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	return NewService(database, store.NewEvents(broker, log.Nop()), log.Nop()), database, broker
}

func TestRecordPageView(t *testing.T) {
	svc, database, broker := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx, store.ChannelPageView)

	svc.RecordPageView(ctx, PageView{Path: "/homes/malibu", VisitorID: "v1", UserAgent: "test"})
	svc.RecordPageView(ctx, PageView{Path: "https://evil.example"})
	svc.RecordPageView(ctx, PageView{Path: ""})

	n, err := database.Repository(entities.PageViewSchema).Count(ctx, &interfaces.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only site-relative paths are kept")

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, "/homes/malibu")
	case <-time.After(time.Second):
		t.Fatal("page view event not published")
	}
}

func TestNewsletter(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, " Ana@Example.com ", "footer")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", sub.Email)
	assert.Equal(t, entities.SubscriberActive, sub.Status)

	again, err := svc.Subscribe(ctx, "ana@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID, "resubscribing keeps one row")

	_, err = svc.Subscribe(ctx, "nope", "")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	require.NoError(t, svc.Unsubscribe(ctx, "ANA@example.com"))
	assert.ErrorIs(t, svc.Unsubscribe(ctx, "ghost@example.com"), ErrNotFound)

	back, err := svc.Subscribe(ctx, "ana@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, entities.SubscriberActive, back.Status)
	assert.Nil(t, back.UnsubscribedAt)
}

func TestStats(t *testing.T) {
	svc, database, _ := setup(t)
	ctx := context.Background()

	leads := database.Repository(entities.LeadSchema)
	_, err := leads.Create(ctx, map[string]interface{}{
		"name": "Ana", "source": "contact", "status": entities.LeadStatusNew, "crm_status": entities.CRMStatusFailed,
	})
	require.NoError(t, err)
	for _, p := range []string{"/a", "/b", "/a"} {
		svc.RecordPageView(ctx, PageView{Path: p})
	}
	_, err = svc.Subscribe(ctx, "ana@example.com", "")
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Leads7d)
	assert.Equal(t, int64(1), st.Leads30d)
	assert.Equal(t, int64(1), st.FailedCRMSyncs)
	assert.Equal(t, int64(3), st.PageViews7d)
	assert.Equal(t, int64(1), st.Subscribers)
	assert.Equal(t, int64(1), st.PublishedPosts)
	assert.Equal(t, int64(2), st.ScheduledPosts)
	require.Len(t, st.TopPaths, 2)
	assert.Equal(t, PathHit{Path: "/a", Views: 2}, st.TopPaths[0])
}
