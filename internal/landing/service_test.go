package landing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/clients"
	"github.com/havenly/havenly-backend/internal/clients/unsplash"
	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/listings"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/settings"
	"github.com/havenly/havenly-backend/internal/store"
	memkv "github.com/havenly/havenly-backend/pkg/kv/memory"
)

type mockText struct{ mock.Mock }

func (m *mockText) CompleteJSON(ctx context.Context, system, prompt string, dest interface{}) error {
	args := m.Called(ctx, system, prompt, dest)
	return args.Error(0)
}

type mockPhotos struct{ mock.Mock }

func (m *mockPhotos) SearchPhoto(ctx context.Context, query string) (*unsplash.Photo, error) {
	args := m.Called(ctx, query)
	photo, _ := args.Get(0).(*unsplash.Photo)
	return photo, args.Error(1)
}

type fixture struct {
	svc      *Service
	db       interfaces.Database
	cache    *store.Cache
	settings *settings.Service
	text     *mockText
	photos   *mockPhotos
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	require.NoError(t, db.SeedFixtures(ctx, database, time.Now().UTC()))

	cache := store.NewCache(memkv.New(0), log.Nop(), metrics.NewNoop())
	t.Cleanup(func() { cache.Close() })

	f := &fixture{
		db:       database,
		cache:    cache,
		settings: settings.NewService(database, cache, log.Nop()),
		text:     &mockText{},
		photos:   &mockPhotos{},
	}
	f.svc = NewService(database, cache, nil,
		listings.NewService(database, cache, log.Nop()),
		f.text, f.photos, f.settings, opts, log.Nop(), metrics.NewNoop())
	return f
}

func fillCopy(args mock.Arguments) {
	dest := args.Get(3).(*generatedCopy)
	dest.Intro = "Malibu sits between the mountains and the sea."
	dest.Sections = []Section{{Heading: "Neighborhoods", Body: "Point Dume, Carbon Beach."}}
}

func TestGetServesSkeletonWhenGenerationIsOff(t *testing.T) {
	f := newFixture(t, Options{})

	page, err := f.svc.Get(context.Background(), "Malibu", KindHomesForSale)
	require.NoError(t, err)

	assert.False(t, page.Generated)
	assert.Equal(t, SourceTemplate, page.Source)
	assert.Equal(t, "Malibu Homes for Sale | Havenly", page.Content.Title)
	assert.Empty(t, page.Content.Sections)
	assert.Len(t, page.Listings, 3, "visible Malibu listings")
	f.text.AssertNotCalled(t, "CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	n, err := f.db.Repository(entities.LandingPageSchema).Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n, "skeletons are not persisted")
}

func TestGenerateStoresAndCaches(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.photos.On("SearchPhoto", mock.Anything, "Malibu luxury homes").
		Return(&unsplash.Photo{URL: "https://img/malibu.jpg"}, nil).Once()
	f.text.On("CompleteJSON", mock.Anything, systemPrompt, mock.Anything, mock.Anything).
		Run(fillCopy).Return(nil).Once()

	page, err := f.svc.Generate(ctx, "malibu", KindLuxuryHomes, false)
	require.NoError(t, err)
	assert.True(t, page.Generated)
	assert.Equal(t, SourceGenerated, page.Source)
	assert.Equal(t, "https://img/malibu.jpg", page.HeroImageURL)
	assert.Equal(t, "Malibu sits between the mountains and the sea.", page.Content.Intro)
	for _, p := range page.Listings {
		assert.GreaterOrEqual(t, *p.ListPrice, luxuryFloor)
	}

	again, err := f.svc.Get(ctx, "Malibu", KindLuxuryHomes)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, again.Source)
	assert.Equal(t, page.Content, again.Content)

	require.NoError(t, f.svc.Invalidate(ctx, "Malibu", KindLuxuryHomes))
	fromDB, err := f.svc.Get(ctx, "Malibu", KindLuxuryHomes)
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, fromDB.Source)
	assert.Equal(t, "https://img/malibu.jpg", fromDB.HeroImageURL)

	f.text.AssertExpectations(t)
	f.photos.AssertExpectations(t)
}

func TestConcurrentGenerationRunsOnce(t *testing.T) {
	f := newFixture(t, Options{GenerateOnRequest: true})
	ctx := context.Background()

	f.photos.On("SearchPhoto", mock.Anything, mock.Anything).Return(nil, unsplash.ErrNoPhoto).Once()
	f.text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			time.Sleep(50 * time.Millisecond)
			fillCopy(args)
		}).Return(nil).Once()

	var wg sync.WaitGroup
	pages := make([]*Page, 10)
	for i := range pages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.svc.Get(ctx, "Malibu", KindHomesForSale)
			assert.NoError(t, err)
			pages[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range pages {
		require.NotNil(t, p)
		assert.True(t, p.Generated)
		assert.Empty(t, p.HeroImageURL)
	}
	f.text.AssertNumberOfCalls(t, "CompleteJSON", 1)

	n, err := f.db.Repository(entities.LandingPageSchema).Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestForcedGenerationRunsAlongsidePlainRun(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	gate := make(chan struct{})
	var entered int32
	f.photos.On("SearchPhoto", mock.Anything, mock.Anything).Return(nil, unsplash.ErrNoPhoto)
	f.text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			atomic.AddInt32(&entered, 1)
			<-gate
			fillCopy(args)
		}).Return(nil)

	var wg sync.WaitGroup
	generate := func(force bool) {
		defer wg.Done()
		_, err := f.svc.Generate(ctx, "malibu", KindCondosForSale, force)
		assert.NoError(t, err)
	}

	wg.Add(1)
	go generate(false)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&entered) == 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go generate(true)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&entered) == 2 }, time.Second, 5*time.Millisecond,
		"admin regeneration starts its own run")

	close(gate)
	wg.Wait()
	f.text.AssertNumberOfCalls(t, "CompleteJSON", 2)
}

func TestAdminSwitchEnablesGeneration(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.settings.Set(ctx, entities.SettingLandingGenerateOnRequest, []byte(`true`), "")
	require.NoError(t, err)

	f.photos.On("SearchPhoto", mock.Anything, mock.Anything).Return(nil, clients.ErrNotConfigured)
	f.text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(clients.ErrNotConfigured)

	page, err := f.svc.Get(ctx, "Austin", KindCondosForSale)
	require.NoError(t, err)
	assert.True(t, page.Generated, "degraded generation still stores the page")
	assert.Equal(t, "Condos for Sale in Austin", page.Content.H1)
	assert.Empty(t, page.Content.Sections)
}

func TestHeroImageIsMemoized(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.photos.On("SearchPhoto", mock.Anything, "Miami homes for sale").
		Return(&unsplash.Photo{URL: "https://img/miami.jpg"}, nil).Once()
	f.text.On("CompleteJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))

	_, err := f.svc.Generate(ctx, "Miami", KindHomesForSale, false)
	require.NoError(t, err)
	page, err := f.svc.Generate(ctx, "Miami", KindHomesForSale, true)
	require.NoError(t, err)
	assert.Equal(t, "https://img/miami.jpg", page.HeroImageURL)
	f.photos.AssertNumberOfCalls(t, "SearchPhoto", 1)
	f.text.AssertNumberOfCalls(t, "CompleteJSON", 2)
}

func TestKindsAndValidation(t *testing.T) {
	f := newFixture(t, Options{})

	k, err := ParseKind("Luxury-Homes")
	require.NoError(t, err)
	assert.Equal(t, KindLuxuryHomes, k)

	_, err = ParseKind("castles")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = f.svc.Get(context.Background(), "Malibu", Kind("castles"))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = f.svc.Get(context.Background(), "  !! ", KindHomesForSale)
	assert.ErrorIs(t, err, ErrInvalidCity)

	assert.Len(t, Kinds(), len(templates))
}

func TestCityHelpers(t *testing.T) {
	assert.Equal(t, "miami-beach", CitySlug("  Miami   Beach "))
	assert.Equal(t, "st-louis", CitySlug("St. Louis"))
	assert.Equal(t, "Miami Beach", CityName("miami-beach"))

	testCases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Malibu", "malibu", true},
		{"Malibuu", "malibu", true},
		{"los-angelas", "los-angeles", true},
		{"san diegoo", "san-diego", true},
		{"Springfield", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		got, ok := MatchCity(tc.in, DefaultCities)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 0, levenshtein("", ""))
}
