package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/clients/trends"
	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/metrics"
)

type mockText struct{ mock.Mock }

func (m *mockText) CompleteJSON(ctx context.Context, system, prompt string, dest interface{}) error {
	return m.Called(ctx, system, prompt, dest).Error(0)
}

type mockTrends struct{ mock.Mock }

func (m *mockTrends) Daily(ctx context.Context) ([]trends.Trend, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]trends.Trend)
	return list, args.Error(1)
}

func newService(t *testing.T) (*Service, *mockText, *mockTrends) {
	t.Helper()
	ctx := context.Background()
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))

	text, source := &mockText{}, &mockTrends{}
	posts := blog.NewService(database, nil, nil, nil, 0, log.Nop(), metrics.NewNoop())
	return NewService(database, text, source, posts, log.Nop()), text, source
}

func TestChooseTemplate(t *testing.T) {
	testCases := []struct {
		topic, city string
		want        Template
	}{
		{"Mortgage rates and your down payment", "", TemplateBuyerTips},
		{"Median home prices and inventory", "Austin", TemplateMarketUpdate},
		{"Best neighborhoods for families, schools included", "", TemplateNeighborhoodGuide},
		{"Staging tips before selling", "", TemplateSellerTips},
		{"Waterfront open house this weekend", "", TemplateListingSpotlight},
		{"Spring", "Miami", TemplateMarketUpdate},
		{"Spring", "", TemplateBuyerTips},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ChooseTemplate(tc.topic, tc.city), tc.topic)
	}

	_, err := ParseTemplate("poem")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	tmpl, err := ParseTemplate(" Seller-Tips ")
	require.NoError(t, err)
	assert.Equal(t, TemplateSellerTips, tmpl)
	assert.Len(t, Templates(), len(templates))
}

func TestGenerateAndSaveDraft(t *testing.T) {
	svc, text, _ := newService(t)
	ctx := context.Background()

	text.On("CompleteJSON", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
		return assert.Contains(t, p, "Neighborhood guide") && assert.Contains(t, p, "Focus the post on Austin")
	}), mock.Anything).Run(func(args mock.Arguments) {
		d := args.Get(3).(*Draft)
		d.Title = "Living in Austin: Neighborhoods Compared"
		d.MetaDescription = "Zilker, Mueller and Hyde Park side by side."
		d.ContentMD = "## Zilker\n\nParks and trails near downtown Austin."
		d.Tags = []string{"austin"}
	}).Return(nil).Once()

	draft, err := svc.GenerateDraft(ctx, DraftRequest{Topic: "Living in Austin neighborhoods", City: "Austin"})
	require.NoError(t, err)
	assert.Equal(t, TemplateNeighborhoodGuide, draft.Template)
	assert.Equal(t, []string{"austin", "neighborhoods"}, draft.Tags)
	assert.Contains(t, draft.Keywords, "austin")

	post, err := svc.SaveDraft(ctx, draft, "")
	require.NoError(t, err)
	assert.Equal(t, entities.PostStatusDraft, post.Status)
	assert.Equal(t, "living-in-austin-neighborhoods-compared", post.Slug)
	require.NotNil(t, post.Template)
	assert.Equal(t, "neighborhood-guide", *post.Template)
	text.AssertExpectations(t)
}

func TestGenerateDraftFailures(t *testing.T) {
	svc, text, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GenerateDraft(ctx, DraftRequest{Topic: "  "})
	assert.ErrorIs(t, err, ErrInvalidTopic)
	_, err = svc.GenerateDraft(ctx, DraftRequest{Topic: "x", Template: "limerick"})
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	upstream := errors.New("upstream down")
	text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(upstream).Once()
	_, err = svc.GenerateDraft(ctx, DraftRequest{Topic: "Buying a condo"})
	assert.ErrorIs(t, err, upstream)

	text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	_, err = svc.GenerateDraft(ctx, DraftRequest{Topic: "Buying a condo"})
	assert.ErrorIs(t, err, ErrEmptyDraft)
}

func TestDiscoverKeepsHousingTopics(t *testing.T) {
	svc, _, source := newService(t)
	ctx := context.Background()

	source.On("Daily", mock.Anything).Return([]trends.Trend{
		{Term: "Mortgage Rates", Traffic: 200000, PublishedAt: time.Now()},
		{Term: "Lakers", Traffic: 500000},
		{Term: "Fed meeting", Traffic: 50000, Related: []string{"fed rate cut home prices"}},
	}, nil).Twice()

	n, err := svc.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	topics, err := svc.Topics(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "mortgage rates", topics[0].Term)
	assert.Greater(t, topics[0].Score, topics[1].Score)
	require.NotNil(t, topics[0].Traffic)
	assert.Equal(t, "200000+", *topics[0].Traffic)

	_, err = svc.SetTopicStatus(ctx, topics[1].ID, entities.TopicStatusDismissed)
	require.NoError(t, err)

	_, err = svc.Discover(ctx)
	require.NoError(t, err)
	fresh, err := svc.Topics(ctx, entities.TopicStatusNew, 0)
	require.NoError(t, err)
	require.Len(t, fresh, 1, "rediscovery does not revive dismissed topics")
	assert.Equal(t, "mortgage rates", fresh[0].Term)
}

func TestDraftTopicMarksTopicDrafted(t *testing.T) {
	svc, text, _ := newService(t)
	ctx := context.Background()

	topic, err := svc.AddTopic(ctx, "  Home   Staging Ideas ")
	require.NoError(t, err)
	assert.Equal(t, "home staging ideas", topic.Term)
	assert.Equal(t, entities.TopicSourceManual, topic.Source)

	text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		d := args.Get(3).(*Draft)
		d.Title = "Home Staging Ideas That Sell"
		d.ContentMD = "Declutter first."
	}).Return(nil).Once()

	post, err := svc.DraftTopic(ctx, topic.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "home-staging-ideas-that-sell", post.Slug)

	got, err := svc.Topic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.TopicStatusDrafted, got.Status)

	_, err = svc.DraftTopic(ctx, "missing", "", "")
	assert.ErrorIs(t, err, ErrTopicNotFound)
}
