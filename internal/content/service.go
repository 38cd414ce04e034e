// Package content drafts blog posts with a language model and discovers
// trending topics worth writing about.
package content

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/blog"
	"github.com/havenly/havenly-backend/internal/clients"
	"github.com/havenly/havenly-backend/internal/clients/trends"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrEmptyDraft    = errors.New("generated draft is empty")
)

// TextGenerator completes a prompt into a JSON reply.
type TextGenerator interface {
	CompleteJSON(ctx context.Context, system, prompt string, dest interface{}) error
}

// TrendSource lists today's trending searches.
type TrendSource interface {
	Daily(ctx context.Context) ([]trends.Trend, error)
}

// PostCreator stores a generated draft.
type PostCreator interface {
	Create(ctx context.Context, in blog.PostInput, authorID string) (*entities.Post, error)
}

type Service struct {
	db     interfaces.Database
	text   TextGenerator
	trends TrendSource
	posts  PostCreator
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(db interfaces.Database, text TextGenerator, source TrendSource, posts PostCreator, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:     db,
		text:   text,
		trends: source,
		posts:  posts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Draft is a generated post that has not been stored yet.
type Draft struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription"`
	ContentMD       string   `json:"contentMd"`
	Tags            []string `json:"tags"`
	Keywords        []string `json:"keywords"`
	Template        Template `json:"template"`
	City            string   `json:"city,omitempty"`
}

type DraftRequest struct {
	Topic    string `json:"topic" validate:"required,max=200"`
	Template string `json:"template" validate:"omitempty"`
	City     string `json:"city" validate:"omitempty,max=80"`
}

// GenerateDraft writes a post about topic. An empty template is chosen from
// the topic's wording.
func (s *Service) GenerateDraft(ctx context.Context, req DraftRequest) (*Draft, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidTopic)
	}
	city := strings.TrimSpace(req.City)
	tmpl := ChooseTemplate(topic, city)
	if req.Template != "" {
		t, err := ParseTemplate(req.Template)
		if err != nil {
			return nil, err
		}
		tmpl = t
	}

	if s.text == nil {
		return nil, clients.ErrNotConfigured
	}
	var reply Draft
	if err := s.text.CompleteJSON(ctx, systemPrompt, buildPrompt(tmpl, topic, city), &reply); err != nil {
		return nil, fmt.Errorf("generate draft: %w", err)
	}
	reply.Title = strings.TrimSpace(reply.Title)
	reply.ContentMD = strings.TrimSpace(reply.ContentMD)
	if reply.Title == "" || reply.ContentMD == "" {
		return nil, ErrEmptyDraft
	}
	if len([]rune(reply.MetaDescription)) > 155 {
		reply.MetaDescription = string([]rune(reply.MetaDescription)[:155])
	}
	reply.Template = tmpl
	reply.City = city
	reply.Tags = append(reply.Tags, templates[tmpl].tags...)
	reply.Keywords = blog.ExtractKeywords(reply.Title+" "+reply.ContentMD, 8)

	s.logger.Infow("Draft generated", "template", tmpl, "topic", topic, "city", city)
	return &reply, nil
}

// SaveDraft stores d as a draft post.
func (s *Service) SaveDraft(ctx context.Context, d *Draft, authorID string) (*entities.Post, error) {
	tmpl := string(d.Template)
	in := blog.PostInput{
		Title:     &d.Title,
		ContentMD: &d.ContentMD,
		Tags:      d.Tags,
		Keywords:  d.Keywords,
		Template:  &tmpl,
		Status:    entities.PostStatusDraft,
	}
	if d.MetaDescription != "" {
		in.MetaDescription = &d.MetaDescription
	}
	if d.City != "" {
		in.City = &d.City
	}
	return s.posts.Create(ctx, in, authorID)
}

// DraftTopic generates and stores a draft for a discovered topic and marks
// the topic drafted.
func (s *Service) DraftTopic(ctx context.Context, topicID, city, authorID string) (*entities.Post, error) {
	topic, err := s.Topic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	draft, err := s.GenerateDraft(ctx, DraftRequest{Topic: topic.Term, City: city})
	if err != nil {
		return nil, err
	}
	post, err := s.SaveDraft(ctx, draft, authorID)
	if err != nil {
		return nil, err
	}
	if _, err := s.SetTopicStatus(ctx, topicID, entities.TopicStatusDrafted); err != nil {
		s.logger.Warnw("Failed to mark topic drafted", "topic_id", topicID, "error", err)
	}
	return post, nil
}

func (s *Service) topics() interfaces.Repository {
	return s.db.Repository(entities.DiscoveredTopicSchema)
}

func (s *Service) Topic(ctx context.Context, id string) (*entities.DiscoveredTopic, error) {
	row, err := s.topics().GetByID(ctx, interfaces.StringID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return entities.Decode[entities.DiscoveredTopic](row)
}

// Topics lists discovered topics, highest score first. An empty status
// lists all of them.
func (s *Service) Topics(ctx context.Context, status string, limit int) ([]entities.DiscoveredTopic, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var where *interfaces.Filters
	if status != "" {
		where = interfaces.Where(interfaces.Eq("status", status))
	}
	page, err := s.topics().FindMany(ctx, &interfaces.Query{
		Where: where,
		OrderBy: []interfaces.OrderBy{
			{Field: "score", Direction: "desc"},
			{Field: "discovered_at", Direction: "desc"},
		},
		Limit: interfaces.Limit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return entities.DecodeAll[entities.DiscoveredTopic](page.Data)
}

// AddTopic records a topic an editor typed in by hand.
func (s *Service) AddTopic(ctx context.Context, term string) (*entities.DiscoveredTopic, error) {
	term = normalizeTerm(term)
	if term == "" {
		return nil, fmt.Errorf("%w: term is required", ErrInvalidTopic)
	}
	row, err := s.topics().Upsert(ctx,
		map[string]interface{}{"term": term},
		map[string]interface{}{"source": entities.TopicSourceManual, "discovered_at": s.now()},
	)
	if err != nil {
		return nil, fmt.Errorf("add topic: %w", err)
	}
	return entities.Decode[entities.DiscoveredTopic](row)
}

func (s *Service) SetTopicStatus(ctx context.Context, id, status string) (*entities.DiscoveredTopic, error) {
	switch status {
	case entities.TopicStatusNew, entities.TopicStatusDrafted, entities.TopicStatusDismissed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTopic, status)
	}
	row, err := s.topics().Update(ctx, interfaces.StringID(id), map[string]interface{}{"status": status})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update topic: %w", err)
	}
	return entities.Decode[entities.DiscoveredTopic](row)
}

var realEstateCues = []string{
	"home", "homes", "house", "housing", "real estate", "realtor", "mortgage",
	"rent", "rental", "condo", "apartment", "property", "zillow", "redfin",
	"interest rate", "fed rate", "foreclosure", "hoa", "escrow", "landlord",
	"tenant", "first-time buyer", "home price", "listing",
}

// relevance scores how strongly a trend concerns housing: 1 when the term
// itself matches, 0.5 when only a related query does, 0 otherwise.
func relevance(t trends.Trend) float64 {
	if mentionsRealEstate(t.Term) {
		return 1
	}
	for _, r := range t.Related {
		if mentionsRealEstate(r) {
			return 0.5
		}
	}
	return 0
}

func mentionsRealEstate(s string) bool {
	text := " " + strings.ToLower(s) + " "
	for _, cue := range realEstateCues {
		if strings.Contains(text, " "+cue+" ") || strings.Contains(text, " "+cue+"s ") {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Discover pulls today's trends, keeps the housing-related ones and upserts
// them by term. Status is left alone for terms seen before so dismissed
// topics stay dismissed.
func (s *Service) Discover(ctx context.Context) (int, error) {
	list, err := s.trends.Daily(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch trends: %w", err)
	}
	stored := 0
	for _, t := range list {
		rel := relevance(t)
		if rel == 0 {
			continue
		}
		term := normalizeTerm(t.Term)
		if term == "" {
			continue
		}
		data := map[string]interface{}{
			"source":        entities.TopicSourceTrends,
			"score":         math.Round(rel*math.Log10(float64(t.Traffic)+10)*100) / 100,
			"related":       t.Related,
			"discovered_at": s.now(),
		}
		if t.Traffic > 0 {
			data["traffic"] = fmt.Sprintf("%d+", t.Traffic)
		}
		if _, err := s.topics().Upsert(ctx, map[string]interface{}{"term": term}, data); err != nil {
			s.logger.Warnw("Failed to store topic", "term", term, "error", err)
			continue
		}
		stored++
	}
	s.logger.Infow("Topic discovery finished", "trends", len(list), "stored", stored)
	return stored, nil
}
