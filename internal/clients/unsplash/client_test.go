package unsplash

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/clients"
	"github.com/havenly/havenly-backend/internal/log"
)

func TestSearchPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/photos", r.URL.Path)
		assert.Equal(t, "Client-ID key", r.Header.Get("Authorization"))
		assert.Equal(t, "landscape", r.URL.Query().Get("orientation"))

		if r.URL.Query().Get("query") == "nowhere" {
			w.Write([]byte(`{"results":[]}`))
			return
		}
		w.Write([]byte(`{"results":[{"alt_description":"beach","urls":{"regular":"https://img/1.jpg"},"user":{"name":"Ana","links":{"html":"https://unsplash.com/@ana"}}}]}`))
	}))
	defer srv.Close()

	c := New("key", srv.URL, log.Nop())

	photo, err := c.SearchPhoto(context.Background(), "malibu homes")
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.jpg", photo.URL)
	assert.Equal(t, "Ana", photo.Author)

	_, err = c.SearchPhoto(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNoPhoto)
}

func TestSearchPhotoNotConfigured(t *testing.T) {
	_, err := New("", "", log.Nop()).SearchPhoto(context.Background(), "x")
	assert.ErrorIs(t, err, clients.ErrNotConfigured)
}
