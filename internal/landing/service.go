// Package landing serves per-city SEO landing pages. Copy is read from the
// cache, then the database, and is generated only on demand.
package landing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/clients/unsplash"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/listings"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
	"github.com/havenly/havenly-backend/internal/util"
)

const (
	SourceCache     = "cache"
	SourceDatabase  = "database"
	SourceGenerated = "generated"
	SourceTemplate  = "template"

	pageListings      = 6
	generationTimeout = 90 * time.Second
	maxSlugLen        = 64
)

var (
	ErrUnknownKind = errors.New("unknown landing page kind")
	ErrInvalidCity = errors.New("invalid city")

	errNoPage = errors.New("landing page not stored")
)

// TextGenerator produces structured copy.
type TextGenerator interface {
	CompleteJSON(ctx context.Context, system, prompt string, dest interface{}) error
}

type PhotoSearcher interface {
	SearchPhoto(ctx context.Context, query string) (*unsplash.Photo, error)
}

type ListingSearcher interface {
	Search(ctx context.Context, opts listings.SearchOptions) (*listings.SearchResult, error)
}

// Switches reads runtime flags from admin settings.
type Switches interface {
	Bool(ctx context.Context, key string, def bool) bool
}

type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Content struct {
	Title           string    `json:"title"`
	MetaDescription string    `json:"metaDescription"`
	H1              string    `json:"h1"`
	Intro           string    `json:"intro"`
	Sections        []Section `json:"sections,omitempty"`
	FAQ             []FAQ     `json:"faq,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
}

// Page is the payload served for one (city, kind).
type Page struct {
	City         string              `json:"city"`
	CitySlug     string              `json:"citySlug"`
	Kind         Kind                `json:"kind"`
	Content      Content             `json:"content"`
	HeroImageURL string              `json:"heroImageUrl,omitempty"`
	Generated    bool                `json:"generated"`
	GeneratedAt  *time.Time          `json:"generatedAt,omitempty"`
	Source       string              `json:"source"`
	Listings     []entities.Property `json:"listings"`
}

// stored is the cached part of a page; listings are attached per request.
type stored struct {
	Content      Content    `json:"content"`
	HeroImageURL string     `json:"heroImageUrl,omitempty"`
	GeneratedAt  *time.Time `json:"generatedAt,omitempty"`
}

// generatedCopy is the JSON shape requested from the text generator.
type generatedCopy struct {
	MetaDescription string    `json:"metaDescription"`
	Intro           string    `json:"intro"`
	Sections        []Section `json:"sections"`
	FAQ             []FAQ     `json:"faq"`
}

type flightResult struct {
	page   *stored
	source string
}

type Options struct {
	GenerateOnRequest bool
	CacheTTL          time.Duration
	ImageTTL          time.Duration
	Cities            []string
}

type Service struct {
	db       interfaces.Database
	cache    *store.Cache
	events   *store.Events
	listings ListingSearcher
	text     TextGenerator
	photos   PhotoSearcher
	switches Switches
	flight   *util.Flight[*flightResult]
	opts     Options
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(
	db interfaces.Database,
	cache *store.Cache,
	events *store.Events,
	listingSvc ListingSearcher,
	text TextGenerator,
	photos PhotoSearcher,
	switches Switches,
	opts Options,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 6 * time.Hour
	}
	if opts.ImageTTL <= 0 {
		opts.ImageTTL = 24 * time.Hour
	}
	if len(opts.Cities) == 0 {
		opts.Cities = DefaultCities
	}
	return &Service{
		db:       db,
		cache:    cache,
		events:   events,
		listings: listingSvc,
		text:     text,
		photos:   photos,
		switches: switches,
		flight:   util.NewFlight[*flightResult](generationTimeout),
		opts:     opts,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) repo() interfaces.Repository {
	return s.db.Repository(entities.LandingPageSchema)
}

// MatchCity resolves a possibly misspelled city to a known slug.
func (s *Service) MatchCity(city string) (string, bool) {
	return MatchCity(city, s.opts.Cities)
}

func citySlug(city string) (string, error) {
	slug := CitySlug(city)
	if slug == "" || len(slug) > maxSlugLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidCity, city)
	}
	return slug, nil
}

// Get serves a page from cache or database. A missing page is generated only
// when request-time generation is switched on; otherwise the SEO skeleton is
// returned with Generated=false.
func (s *Service) Get(ctx context.Context, city string, kind Kind) (*Page, error) {
	if _, ok := templates[kind]; !ok {
		return nil, ErrUnknownKind
	}
	slug, err := citySlug(city)
	if err != nil {
		return nil, err
	}

	page, source, err := s.load(ctx, slug, kind)
	if err == nil {
		return s.assemble(ctx, slug, kind, page, source), nil
	}
	if !errors.Is(err, errNoPage) {
		return nil, err
	}

	if s.generateOnRequest(ctx) {
		return s.Generate(ctx, slug, kind, false)
	}
	return s.assemble(ctx, slug, kind, &stored{Content: skeleton(CityName(slug), kind)}, SourceTemplate), nil
}

func (s *Service) generateOnRequest(ctx context.Context) bool {
	if s.opts.GenerateOnRequest {
		return true
	}
	if s.switches == nil {
		return false
	}
	return s.switches.Bool(ctx, entities.SettingLandingGenerateOnRequest, false)
}

// Generate builds copy for (city, kind). Concurrent calls for the same pair
// and force flag share one execution. Without force an already stored page
// is returned.
func (s *Service) Generate(ctx context.Context, city string, kind Kind, force bool) (*Page, error) {
	if _, ok := templates[kind]; !ok {
		return nil, ErrUnknownKind
	}
	slug, err := citySlug(city)
	if err != nil {
		return nil, err
	}

	// Forced runs get their own key so they never return a plain run's
	// stored page.
	key := slug + "::" + string(kind)
	if force {
		key += "::force"
	}
	res, shared, err := s.flight.Do(ctx, key, func(ctx context.Context) (*flightResult, error) {
		if !force {
			if existing, src, err := s.load(ctx, slug, kind); err == nil {
				return &flightResult{page: existing, source: src}, nil
			}
		}
		return &flightResult{page: s.generate(ctx, slug, kind), source: SourceGenerated}, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordLandingGeneration(ctx, string(kind), shared)
	}
	return s.assemble(ctx, slug, kind, res.page, res.source), nil
}

// load reads the cache, then the database (refilling the cache).
func (s *Service) load(ctx context.Context, slug string, kind Kind) (*stored, string, error) {
	key := store.LandingKey(slug, string(kind))

	var cached stored
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, SourceCache, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		s.logger.Warnw("Landing cache read failed", "key", key, "error", err)
	}

	row, err := s.repo().FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(
			interfaces.Eq("city", slug),
			interfaces.Eq("page_name", string(kind)),
		),
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, "", errNoPage
		}
		return nil, "", fmt.Errorf("load landing page: %w", err)
	}
	lp, err := entities.Decode[entities.LandingPage](row)
	if err != nil {
		return nil, "", err
	}
	var content Content
	if err := json.Unmarshal(lp.Content, &content); err != nil {
		s.logger.Warnw("Stored landing content is malformed", "city", slug, "kind", kind, "error", err)
		return nil, "", errNoPage
	}
	page := &stored{Content: content, GeneratedAt: lp.GeneratedAt}
	if lp.HeroImageURL != nil {
		page.HeroImageURL = *lp.HeroImageURL
	}
	if err := s.cache.Set(ctx, key, page, s.opts.CacheTTL); err != nil {
		s.logger.Warnw("Landing cache write failed", "key", key, "error", err)
	}
	return page, SourceDatabase, nil
}

// generate never fails: missing integrations degrade to the skeleton copy
// and no hero image.
func (s *Service) generate(ctx context.Context, slug string, kind Kind) *stored {
	name := CityName(slug)
	now := s.now()
	page := &stored{Content: skeleton(name, kind), GeneratedAt: &now}

	page.HeroImageURL = s.heroImage(ctx, imageQuery(name, kind))

	var reply generatedCopy
	if s.text == nil {
		s.logger.Infow("No text generator; using template copy", "city", slug, "kind", kind)
	} else if err := s.text.CompleteJSON(ctx, systemPrompt, prompt(name, kind), &reply); err != nil {
		s.logger.Warnw("Landing copy generation failed", "city", slug, "kind", kind, "error", err)
	} else {
		if reply.MetaDescription != "" {
			page.Content.MetaDescription = reply.MetaDescription
		}
		if reply.Intro != "" {
			page.Content.Intro = reply.Intro
		}
		page.Content.Sections = reply.Sections
		page.Content.FAQ = reply.FAQ
	}

	s.persist(ctx, slug, kind, page)

	key := store.LandingKey(slug, string(kind))
	if err := s.cache.Set(ctx, key, page, s.opts.CacheTTL); err != nil {
		s.logger.Warnw("Landing cache write failed", "key", key, "error", err)
	}
	s.events.Publish(ctx, store.ChannelLandingGenerated, map[string]string{"city": slug, "kind": string(kind)})
	s.logger.Infow("Landing page generated", "city", slug, "kind", kind, "sections", len(page.Content.Sections))
	return page
}

func (s *Service) persist(ctx context.Context, slug string, kind Kind, page *stored) {
	content, err := json.Marshal(page.Content)
	if err != nil {
		s.logger.Warnw("Failed to encode landing content", "city", slug, "kind", kind, "error", err)
		return
	}
	data := map[string]interface{}{
		"content":      json.RawMessage(content),
		"generated_at": page.GeneratedAt,
	}
	if page.HeroImageURL != "" {
		data["hero_image_url"] = page.HeroImageURL
	}
	_, err = s.repo().Upsert(ctx,
		map[string]interface{}{"city": slug, "page_name": string(kind)},
		data,
	)
	if err != nil {
		s.logger.Warnw("Failed to persist landing page", "city", slug, "kind", kind, "error", err)
	}
}

// heroImage memoizes one photo per query in the cache.
func (s *Service) heroImage(ctx context.Context, query string) string {
	key := store.ImageKey(query)
	var photo unsplash.Photo
	if err := s.cache.Get(ctx, key, &photo); err == nil {
		return photo.URL
	}
	if s.photos == nil {
		return ""
	}
	found, err := s.photos.SearchPhoto(ctx, query)
	if err != nil {
		s.logger.Warnw("Hero image lookup failed", "query", query, "error", err)
		return ""
	}
	if err := s.cache.Set(ctx, key, found, s.opts.ImageTTL); err != nil {
		s.logger.Warnw("Image cache write failed", "key", key, "error", err)
	}
	return found.URL
}

func (s *Service) assemble(ctx context.Context, slug string, kind Kind, page *stored, source string) *Page {
	out := &Page{
		City:         CityName(slug),
		CitySlug:     slug,
		Kind:         kind,
		Content:      page.Content,
		HeroImageURL: page.HeroImageURL,
		Generated:    page.GeneratedAt != nil,
		GeneratedAt:  page.GeneratedAt,
		Source:       source,
		Listings:     []entities.Property{},
	}
	if s.listings == nil {
		return out
	}
	opts := templates[kind].search(out.City)
	opts.Limit = pageListings
	res, err := s.listings.Search(ctx, opts)
	if err != nil {
		s.logger.Warnw("Landing listings lookup failed", "city", slug, "kind", kind, "error", err)
		return out
	}
	out.Listings = res.Properties
	return out
}

// Stored lists generated pages, newest first.
func (s *Service) Stored(ctx context.Context, limit, offset int) ([]entities.LandingPage, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	page, err := s.repo().FindMany(ctx, &interfaces.Query{
		OrderBy: []interfaces.OrderBy{{Field: "updated_at", Direction: "desc"}},
		Limit:   interfaces.Limit(limit),
		Offset:  &offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list landing pages: %w", err)
	}
	pages, err := entities.DecodeAll[entities.LandingPage](page.Data)
	if err != nil {
		return nil, 0, err
	}
	return pages, page.Total, nil
}

// Invalidate drops the cached copy of one page.
func (s *Service) Invalidate(ctx context.Context, city string, kind Kind) error {
	slug, err := citySlug(city)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, store.LandingKey(slug, string(kind)))
}
