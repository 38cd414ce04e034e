package unsplash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/clients"
)

const service = "unsplash"

// ErrNoPhoto means the search matched nothing.
var ErrNoPhoto = errors.New("unsplash: no photo found")

type Photo struct {
	URL       string `json:"url"`
	Alt       string `json:"alt,omitempty"`
	Author    string `json:"author,omitempty"`
	AuthorURL string `json:"authorUrl,omitempty"`
}

type Client struct {
	accessKey string
	baseURL   string
	http      *http.Client
	cb        *gobreaker.CircuitBreaker[[]byte]
}

func New(accessKey, baseURL string, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = "https://api.unsplash.com"
	}
	return &Client{
		accessKey: accessKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		cb:        clients.NewBreaker(service, logger),
	}
}

type searchResponse struct {
	Results []struct {
		AltDescription string `json:"alt_description"`
		URLs           struct {
			Regular string `json:"regular"`
			Full    string `json:"full"`
		} `json:"urls"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
	} `json:"results"`
}

// SearchPhoto returns the top landscape photo for query.
func (c *Client) SearchPhoto(ctx context.Context, query string) (*Photo, error) {
	if c == nil || c.accessKey == "" {
		return nil, clients.ErrNotConfigured
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("orientation", "landscape")
	params.Set("per_page", "1")

	req, err := clients.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	req.Header.Set("Accept-Version", "v1")

	body, err := clients.Do(c.cb, c.http, service, req)
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unsplash: decode search: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, ErrNoPhoto
	}
	r := resp.Results[0]
	photoURL := r.URLs.Regular
	if photoURL == "" {
		photoURL = r.URLs.Full
	}
	if photoURL == "" {
		return nil, ErrNoPhoto
	}
	return &Photo{
		URL:       photoURL,
		Alt:       r.AltDescription,
		Author:    r.User.Name,
		AuthorURL: r.User.Links.HTML,
	}, nil
}
