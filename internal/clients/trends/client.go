package trends

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/clients"
)

const service = "trends"

// Trend is one daily search trend.
type Trend struct {
	Term        string
	Traffic     int64
	Related     []string
	PublishedAt time.Time
}

type Client struct {
	feedURL string
	geo     string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func New(feedURL, geo string, logger *zap.SugaredLogger) *Client {
	if geo == "" {
		geo = "US"
	}
	return &Client{
		feedURL: feedURL,
		geo:     geo,
		http:    &http.Client{Timeout: 15 * time.Second},
		cb:      clients.NewBreaker(service, logger),
	}
}

type rss struct {
	Channel struct {
		Items []struct {
			Title         string `xml:"title"`
			PubDate       string `xml:"pubDate"`
			ApproxTraffic string `xml:"approx_traffic"`
			NewsItems     []struct {
				Title string `xml:"news_item_title"`
			} `xml:"news_item"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Daily fetches the daily trending searches for the configured region.
func (c *Client) Daily(ctx context.Context) ([]Trend, error) {
	if c == nil || c.feedURL == "" {
		return nil, clients.ErrNotConfigured
	}
	u, err := url.Parse(c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("trends: bad feed url: %w", err)
	}
	q := u.Query()
	q.Set("geo", c.geo)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml")

	body, err := clients.Do(c.cb, c.http, service, req)
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

func parseFeed(body []byte) ([]Trend, error) {
	var feed rss
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("trends: decode feed: %w", err)
	}
	out := make([]Trend, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		term := strings.TrimSpace(item.Title)
		if term == "" {
			continue
		}
		t := Trend{Term: term, Traffic: parseTraffic(item.ApproxTraffic)}
		if ts, err := time.Parse(time.RFC1123Z, strings.TrimSpace(item.PubDate)); err == nil {
			t.PublishedAt = ts.UTC()
		}
		for _, n := range item.NewsItems {
			if title := strings.TrimSpace(n.Title); title != "" {
				t.Related = append(t.Related, title)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// parseTraffic reads values such as "200+", "10K+" or "1M+".
func parseTraffic(s string) int64 {
	s = strings.TrimSuffix(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), "+")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1_000, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "M")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n * mult
}
