// Package analytics records page views and newsletter signups and
// aggregates the admin dashboard counters.
package analytics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/store"
)

const (
	maxPathLen      = 512
	maxUserAgentLen = 300
)

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrNotFound     = errors.New("subscriber not found")
)

type Service struct {
	db     interfaces.Database
	events *store.Events
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(db interfaces.Database, events *store.Events, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:     db,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PageView is the beacon body sent by the site.
type PageView struct {
	Path       string `json:"path"`
	Referrer   string `json:"referrer"`
	VisitorID  string `json:"visitorId"`
	PropertyID string `json:"propertyId"`
	UserAgent  string `json:"-"`
}

// RecordPageView stores a view. It never fails the caller: bad input is
// dropped and storage errors are logged.
func (s *Service) RecordPageView(ctx context.Context, v PageView) {
	path := strings.TrimSpace(v.Path)
	if path == "" || !strings.HasPrefix(path, "/") {
		return
	}
	data := map[string]interface{}{"path": clip(path, maxPathLen)}
	for col, val := range map[string]string{
		"referrer":    clip(strings.TrimSpace(v.Referrer), maxPathLen),
		"visitor_id":  clip(strings.TrimSpace(v.VisitorID), 64),
		"user_agent":  clip(v.UserAgent, maxUserAgentLen),
		"property_id": clip(strings.TrimSpace(v.PropertyID), 64),
	} {
		if val != "" {
			data[col] = val
		}
	}
	if _, err := s.db.Repository(entities.PageViewSchema).Create(ctx, data); err != nil {
		s.logger.Warnw("Failed to record page view", "path", path, "error", err)
		return
	}
	s.events.Publish(ctx, store.ChannelPageView, map[string]interface{}{
		"path": path, "propertyId": v.PropertyID,
	})
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func subscriberEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// Subscribe adds or reactivates a newsletter subscriber.
func (s *Service) Subscribe(ctx context.Context, email, source string) (*entities.NewsletterSubscriber, error) {
	email, err := subscriberEmail(email)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"status":          entities.SubscriberActive,
		"subscribed_at":   s.now(),
		"unsubscribed_at": nil,
	}
	if source = strings.TrimSpace(source); source != "" {
		data["source"] = clip(source, 40)
	}
	row, err := s.db.Repository(entities.NewsletterSubscriberSchema).Upsert(ctx,
		map[string]interface{}{"email": email}, data)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Infow("Newsletter subscription", "source", source)
	return entities.Decode[entities.NewsletterSubscriber](row)
}

// Unsubscribe marks the subscriber inactive. Unknown addresses report
// ErrNotFound.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	email, err := subscriberEmail(email)
	if err != nil {
		return err
	}
	n, err := s.db.Repository(entities.NewsletterSubscriberSchema).UpdateWhere(ctx,
		interfaces.Where(interfaces.Eq("email", email)),
		map[string]interface{}{"status": entities.SubscriberUnsubscribed, "unsubscribed_at": s.now()},
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats is the admin dashboard summary.
type Stats struct {
	Leads7d         int64     `json:"leads7d"`
	Leads30d        int64     `json:"leads30d"`
	PageViews7d     int64     `json:"pageViews7d"`
	Subscribers     int64     `json:"subscribers"`
	PublishedPosts  int64     `json:"publishedPosts"`
	ScheduledPosts  int64     `json:"scheduledPosts"`
	PendingRewards  int64     `json:"pendingRewards"`
	PendingComments int64     `json:"pendingComments"`
	FailedCRMSyncs  int64     `json:"failedCrmSyncs"`
	TopPaths        []PathHit `json:"topPaths"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

type PathHit struct {
	Path  string `json:"path"`
	Views int64  `json:"views"`
}

type counter struct {
	dest   *int64
	schema *interfaces.Schema
	where  *interfaces.Filters
}

// Stats counts the dashboard figures as of now.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.now()
	week := now.Add(-7 * 24 * time.Hour)
	month := now.Add(-30 * 24 * time.Hour)
	st := &Stats{GeneratedAt: now}

	counters := []counter{
		{&st.Leads7d, entities.LeadSchema, interfaces.Where(interfaces.Gte("created_at", week))},
		{&st.Leads30d, entities.LeadSchema, interfaces.Where(interfaces.Gte("created_at", month))},
		{&st.PageViews7d, entities.PageViewSchema, interfaces.Where(interfaces.Gte("created_at", week))},
		{&st.Subscribers, entities.NewsletterSubscriberSchema, interfaces.Where(interfaces.Eq("status", entities.SubscriberActive))},
		{&st.PublishedPosts, entities.PostSchema, interfaces.Where(interfaces.Eq("status", entities.PostStatusPublished))},
		{&st.ScheduledPosts, entities.PostSchema, interfaces.Where(interfaces.Eq("status", entities.PostStatusScheduled))},
		{&st.PendingRewards, entities.ReferralRewardSchema, interfaces.Where(interfaces.Eq("status", entities.RewardRequested))},
		{&st.PendingComments, entities.CommentSchema, interfaces.Where(interfaces.Eq("status", entities.CommentStatusPending))},
		{&st.FailedCRMSyncs, entities.LeadSchema, interfaces.Where(interfaces.Eq("crm_status", entities.CRMStatusFailed))},
	}
	for _, c := range counters {
		n, err := s.db.Repository(c.schema).Count(ctx, &interfaces.Query{Where: c.where})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c.schema.TableName, err)
		}
		*c.dest = n
	}

	top, err := s.topPaths(ctx, week, 5)
	if err != nil {
		return nil, err
	}
	st.TopPaths = top
	return st, nil
}

// topPaths ranks the most viewed paths since the given time.
func (s *Service) topPaths(ctx context.Context, since time.Time, n int) ([]PathHit, error) {
	page, err := s.db.Repository(entities.PageViewSchema).FindMany(ctx, &interfaces.Query{
		Where: interfaces.Where(interfaces.Gte("created_at", since)),
	})
	if err != nil {
		return nil, fmt.Errorf("load page views: %w", err)
	}
	counts := map[string]int64{}
	for _, row := range page.Data {
		if p, ok := row["path"].(string); ok {
			counts[p]++
		}
	}
	hits := make([]PathHit, 0, len(counts))
	for p, c := range counts {
		hits = append(hits, PathHit{Path: p, Views: c})
	}
	slices.SortFunc(hits, func(a, b PathHit) int {
		if a.Views != b.Views {
			return cmp.Compare(b.Views, a.Views)
		}
		return strings.Compare(a.Path, b.Path)
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}
