// Package jobs runs the periodic work of the site: publishing scheduled
// posts, sending lead follow-ups and discovering trending topics.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/leads"
)

const (
	JobPublish   = "publish"
	JobFollowups = "followups"
	JobTrends    = "trends"
)

type PostPublisher interface {
	PublishDue(ctx context.Context, now time.Time) (int64, error)
}

type FollowupSender interface {
	SendDueFollowups(ctx context.Context, now time.Time) (*leads.FollowupReport, error)
}

type TopicDiscoverer interface {
	Discover(ctx context.Context) (int, error)
}

// Runner executes each job once per call. Cron endpoints and the in-process
// scheduler share it.
type Runner struct {
	posts     PostPublisher
	followups FollowupSender
	topics    TopicDiscoverer
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewRunner(posts PostPublisher, followups FollowupSender, topics TopicDiscoverer, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		posts:     posts,
		followups: followups,
		topics:    topics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type PublishResult struct {
	Published int64     `json:"published"`
	RanAt     time.Time `json:"ranAt"`
}

type DiscoverResult struct {
	Topics int       `json:"topics"`
	RanAt  time.Time `json:"ranAt"`
}

// PublishScheduled flips every scheduled post whose time has come.
func (r *Runner) PublishScheduled(ctx context.Context) (*PublishResult, error) {
	now := r.now()
	n, err := r.posts.PublishDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("publish scheduled posts: %w", err)
	}
	r.logger.Infow("Scheduled publish ran", "published", n)
	return &PublishResult{Published: n, RanAt: now}, nil
}

func (r *Runner) SendFollowups(ctx context.Context) (*leads.FollowupReport, error) {
	report, err := r.followups.SendDueFollowups(ctx, r.now())
	if err != nil {
		return nil, fmt.Errorf("send follow-ups: %w", err)
	}
	return report, nil
}

func (r *Runner) DiscoverTopics(ctx context.Context) (*DiscoverResult, error) {
	now := r.now()
	n, err := r.topics.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover topics: %w", err)
	}
	r.logger.Infow("Topic discovery ran", "topics", n)
	return &DiscoverResult{Topics: n, RanAt: now}, nil
}

// Run executes the named job and discards its result.
func (r *Runner) Run(ctx context.Context, job string) error {
	var err error
	switch job {
	case JobPublish:
		_, err = r.PublishScheduled(ctx)
	case JobFollowups:
		_, err = r.SendFollowups(ctx)
	case JobTrends:
		_, err = r.DiscoverTopics(ctx)
	default:
		err = fmt.Errorf("unknown job %q", job)
	}
	return err
}
