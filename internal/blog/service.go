// Package blog manages posts, their scheduled publication, A/B headlines,
// related listings and reader comments.
package blog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
	"github.com/havenly/havenly-backend/internal/util"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50

	maxSlugLen    = 80
	excerptLen    = 200
	keywordCount  = 8
	relatedPool   = 500
	defaultRelate = 5
)

var (
	ErrNotFound          = errors.New("post not found")
	ErrSlugTaken         = errors.New("slug already in use")
	ErrInvalidPost       = errors.New("invalid post")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrVariantExists     = errors.New("title variant already exists")
	ErrCommentNotFound   = errors.New("comment not found")
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float64, error)
}

// PropertySource lists visible listings that carry embeddings.
type PropertySource interface {
	WithEmbeddings(ctx context.Context, limit int) ([]entities.Property, error)
}

type Service struct {
	db       interfaces.Database
	events   *store.Events
	embedder Embedder
	props    PropertySource
	related  int
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(
	db interfaces.Database,
	events *store.Events,
	embedder Embedder,
	props PropertySource,
	relatedCount int,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
) *Service {
	if relatedCount <= 0 {
		relatedCount = defaultRelate
	}
	return &Service{
		db:       db,
		events:   events,
		embedder: embedder,
		props:    props,
		related:  relatedCount,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) posts() interfaces.Repository {
	return s.db.Repository(entities.PostSchema)
}

// PostInput carries the editable fields of a post. On update nil pointers
// leave the stored value unchanged.
type PostInput struct {
	Title           *string    `json:"title"`
	Slug            *string    `json:"slug"`
	ContentMD       *string    `json:"contentMd"`
	MetaDescription *string    `json:"metaDescription"`
	Excerpt         *string    `json:"excerpt"`
	HeroImageURL    *string    `json:"heroImageUrl"`
	Tags            []string   `json:"tags"`
	Keywords        []string   `json:"keywords"`
	City            *string    `json:"city"`
	Template        *string    `json:"template"`
	Status          string     `json:"status"`
	ScheduledAt     *time.Time `json:"scheduledAt"`
}

func (in PostInput) fields() map[string]interface{} {
	data := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			data[col] = strings.TrimSpace(*v)
		}
	}
	set("title_primary", in.Title)
	set("content_md", in.ContentMD)
	set("meta_description", in.MetaDescription)
	set("excerpt", in.Excerpt)
	set("hero_image_url", in.HeroImageURL)
	set("city", in.City)
	set("template", in.Template)
	if in.Tags != nil {
		data["tags"] = normalizeTerms(in.Tags)
	}
	if in.Keywords != nil {
		data["keywords"] = normalizeTerms(in.Keywords)
	}
	return data
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := map[string]bool{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Create stores a new post. The slug defaults to one derived from the title.
func (s *Service) Create(ctx context.Context, in PostInput, authorID string) (*entities.Post, error) {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidPost)
	}
	data := in.fields()

	slug := ""
	if in.Slug != nil {
		slug = util.Slugify(*in.Slug, maxSlugLen)
	}
	if slug == "" {
		slug = util.Slugify(*in.Title, maxSlugLen)
	}
	if slug == "" {
		return nil, fmt.Errorf("%w: title has no usable characters", ErrInvalidPost)
	}
	data["slug"] = slug
	if authorID != "" {
		data["author_id"] = authorID
	}
	s.fillDerived(data)

	status := in.Status
	if status == "" {
		status = entities.PostStatusDraft
	}
	now := s.now()
	switch status {
	case entities.PostStatusDraft:
	case entities.PostStatusScheduled:
		if in.ScheduledAt == nil || !in.ScheduledAt.After(now) {
			return nil, fmt.Errorf("%w: scheduledAt must be in the future", ErrInvalidPost)
		}
		data["scheduled_at"] = *in.ScheduledAt
	case entities.PostStatusPublished:
		data["published_at"] = now
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPost, status)
	}
	data["status"] = status

	row, err := s.posts().Create(ctx, data)
	if err != nil {
		if errors.Is(err, interfaces.ErrUniqueConstraint) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("create post: %w", err)
	}
	post, err := entities.Decode[entities.Post](row)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Post created", "id", post.ID, "slug", post.Slug, "status", post.Status)
	if post.Status == entities.PostStatusPublished {
		s.afterPublish(ctx, post)
	}
	return post, nil
}

// fillDerived computes excerpt and keywords when the caller left them out.
func (s *Service) fillDerived(data map[string]interface{}) {
	content, _ := data["content_md"].(string)
	title, _ := data["title_primary"].(string)
	if _, ok := data["excerpt"]; !ok && content != "" {
		data["excerpt"] = excerpt(content, excerptLen)
	}
	if _, ok := data["keywords"]; !ok && (content != "" || title != "") {
		data["keywords"] = ExtractKeywords(title+" "+title+" "+content, keywordCount)
	}
}

// Update applies the set fields of in. Status changes go through Transition.
func (s *Service) Update(ctx context.Context, id string, in PostInput) (*entities.Post, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data := in.fields()
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidPost)
	}
	if in.Slug != nil {
		slug := util.Slugify(*in.Slug, maxSlugLen)
		if slug == "" {
			return nil, fmt.Errorf("%w: slug cannot be empty", ErrInvalidPost)
		}
		data["slug"] = slug
	}
	if in.ContentMD != nil && in.Keywords == nil {
		title := current.TitlePrimary
		if in.Title != nil {
			title = *in.Title
		}
		data["keywords"] = ExtractKeywords(title+" "+title+" "+*in.ContentMD, keywordCount)
	}
	if len(data) == 0 {
		return current, nil
	}

	row, err := s.posts().Update(ctx, interfaces.StringID(id), data)
	if err != nil {
		if errors.Is(err, interfaces.ErrUniqueConstraint) {
			return nil, ErrSlugTaken
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update post: %w", err)
	}
	post, err := entities.Decode[entities.Post](row)
	if err != nil {
		return nil, err
	}
	if post.Status == entities.PostStatusPublished && (in.ContentMD != nil || in.Title != nil) {
		s.LinkRelated(ctx, post)
	}
	return post, nil
}

var transitions = map[string]map[string]bool{
	entities.PostStatusDraft:     {entities.PostStatusScheduled: true, entities.PostStatusPublished: true},
	entities.PostStatusScheduled: {entities.PostStatusScheduled: true, entities.PostStatusPublished: true, entities.PostStatusDraft: true},
	entities.PostStatusPublished: {entities.PostStatusDraft: true},
}

// Transition moves a post between draft, scheduled and published.
// Scheduling needs a future time; rescheduling a scheduled post is allowed.
func (s *Service) Transition(ctx context.Context, id, to string, scheduledAt *time.Time) (*entities.Post, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitions[current.Status][to] {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}

	now := s.now()
	data := map[string]interface{}{"status": to}
	switch to {
	case entities.PostStatusScheduled:
		if scheduledAt == nil || !scheduledAt.After(now) {
			return nil, fmt.Errorf("%w: scheduledAt must be in the future", ErrInvalidPost)
		}
		data["scheduled_at"] = *scheduledAt
	case entities.PostStatusPublished:
		data["published_at"] = now
	case entities.PostStatusDraft:
		data["scheduled_at"] = nil
		data["published_at"] = nil
	}

	row, err := s.posts().Update(ctx, interfaces.StringID(id), data)
	if err != nil {
		return nil, fmt.Errorf("transition post: %w", err)
	}
	post, err := entities.Decode[entities.Post](row)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Post status changed", "id", id, "from", current.Status, "to", to)
	if to == entities.PostStatusPublished {
		s.afterPublish(ctx, post)
	}
	return post, nil
}

func (s *Service) afterPublish(ctx context.Context, post *entities.Post) {
	s.events.Publish(ctx, store.ChannelPostPublished, map[string]string{"id": post.ID, "slug": post.Slug, "title": post.TitlePrimary})
	s.LinkRelated(ctx, post)
}

// PublishDue flips every scheduled post whose time has come in one
// conditional update. Running it again publishes nothing new.
func (s *Service) PublishDue(ctx context.Context, now time.Time) (int64, error) {
	// Truncated so the follow-up lookup matches what Postgres stores.
	now = now.UTC().Truncate(time.Microsecond)
	n, err := s.posts().UpdateWhere(ctx,
		interfaces.Where(
			interfaces.Eq("status", entities.PostStatusScheduled),
			interfaces.Lte("scheduled_at", now),
		),
		map[string]interface{}{"status": entities.PostStatusPublished, "published_at": now},
	)
	if err != nil {
		return 0, fmt.Errorf("publish due posts: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if s.metrics != nil {
		s.metrics.RecordPostsPublished(ctx, n)
	}
	s.logger.Infow("Published scheduled posts", "count", n)

	page, err := s.posts().FindMany(ctx, &interfaces.Query{
		Where: interfaces.Where(
			interfaces.Eq("status", entities.PostStatusPublished),
			interfaces.Eq("published_at", now),
		),
	})
	if err != nil {
		s.logger.Warnw("Failed to load newly published posts", "error", err)
		return n, nil
	}
	for _, row := range page.Data {
		if post, err := entities.Decode[entities.Post](row); err == nil {
			s.afterPublish(ctx, post)
		}
	}
	return n, nil
}

// Get loads any post by id regardless of status.
func (s *Service) Get(ctx context.Context, id string) (*entities.Post, error) {
	row, err := s.posts().GetByID(ctx, interfaces.StringID(id))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return entities.Decode[entities.Post](row)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.posts().Delete(ctx, interfaces.StringID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	s.logger.Infow("Post deleted", "id", id)
	return nil
}

type ListOptions struct {
	Status string
	Tag    string
	City   string
	Limit  int
	Offset int
}

type PostList struct {
	Posts   []entities.Post `json:"posts"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

func (o *ListOptions) normalize() error {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", ErrInvalidPost)
	}
	return nil
}

// ListPublished pages through published posts, newest first.
func (s *Service) ListPublished(ctx context.Context, opts ListOptions) (*PostList, error) {
	opts.Status = entities.PostStatusPublished
	return s.list(ctx, opts, []interfaces.OrderBy{{Field: "published_at", Direction: "desc"}})
}

// AdminList sees every status.
func (s *Service) AdminList(ctx context.Context, opts ListOptions) (*PostList, error) {
	return s.list(ctx, opts, []interfaces.OrderBy{{Field: "updated_at", Direction: "desc"}})
}

func (s *Service) list(ctx context.Context, opts ListOptions, order []interfaces.OrderBy) (*PostList, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	var conds []interfaces.Filter
	if opts.Status != "" {
		conds = append(conds, interfaces.Eq("status", opts.Status))
	}
	if opts.City != "" {
		conds = append(conds, interfaces.ILike("city", opts.City))
	}
	page, err := s.posts().FindMany(ctx, &interfaces.Query{
		Where:   interfaces.Where(conds...),
		OrderBy: order,
	})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	posts, err := entities.DecodeAll[entities.Post](page.Data)
	if err != nil {
		return nil, err
	}
	// Tags live in an array column; filter here so both backends agree.
	if tag := strings.ToLower(strings.TrimSpace(opts.Tag)); tag != "" {
		kept := posts[:0]
		for _, p := range posts {
			for _, t := range p.Tags {
				if t == tag {
					kept = append(kept, p)
					break
				}
			}
		}
		posts = kept
	}

	total := int64(len(posts))
	start := min(opts.Offset, len(posts))
	end := min(start+opts.Limit, len(posts))
	return &PostList{
		Posts:   posts[start:end],
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: int64(end) < total,
	}, nil
}

// PostView is a published post as a visitor sees it.
type PostView struct {
	entities.Post
	DisplayTitle string            `json:"displayTitle"`
	VariantLabel string            `json:"variantLabel"`
	Related      []RelatedProperty `json:"related"`
}

// GetPublished loads a published post by slug, picks the headline variant
// for visitorID and attaches related listings.
func (s *Service) GetPublished(ctx context.Context, slug, visitorID string) (*PostView, error) {
	post, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	view := &PostView{Post: *post, DisplayTitle: post.TitlePrimary, VariantLabel: PrimaryVariant}

	variants, err := s.Variants(ctx, post.ID)
	if err != nil {
		s.logger.Warnw("Failed to load title variants", "post_id", post.ID, "error", err)
	} else if v := chooseVariant(variants, post.ID, visitorID); v != nil {
		view.DisplayTitle = v.Title
		view.VariantLabel = v.Label
		s.recordVariant(ctx, v.ID, "impressions")
	}

	related, err := s.Related(ctx, post.ID)
	if err != nil {
		s.logger.Warnw("Failed to load related properties", "post_id", post.ID, "error", err)
		related = []RelatedProperty{}
	}
	view.Related = related
	return view, nil
}

func (s *Service) publishedBySlug(ctx context.Context, slug string) (*entities.Post, error) {
	row, err := s.posts().FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(
			interfaces.Eq("slug", strings.ToLower(strings.TrimSpace(slug))),
			interfaces.Eq("status", entities.PostStatusPublished),
		),
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post by slug: %w", err)
	}
	return entities.Decode[entities.Post](row)
}
