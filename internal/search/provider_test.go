package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/resilience"
)

func TestProviderSearchImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "google_images", r.URL.Query().Get("engine"))
		assert.Equal(t, "za", r.URL.Query().Get("gl"))
		assert.Equal(t, "en", r.URL.Query().Get("hl"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "Koo Baked Beans site:checkers.co.za", r.URL.Query().Get("q"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"images_results": [
				{"title": "Koo Baked Beans 410g", "snippet": "EAN 6001234567890", "original": "https://cdn.example/1.jpg", "thumbnail": "https://cdn.example/1t.jpg", "source": "checkers.co.za", "original_width": 800, "original_height": 800},
				{"title": "No original URL", "thumbnail": "https://cdn.example/2t.jpg", "source": "x"},
				{"title": "Source from link", "original": "https://cdn.example/3.jpg", "link": "https://www.shoprite.co.za/p/123"}
			]
		}`))
	}))
	defer srv.Close()

	p := NewProvider(config.SearchConfig{
		Key:      "test-key",
		BaseURL:  srv.URL,
		Country:  "za",
		Language: "en",
	})

	candidates, err := p.SearchImages(context.Background(), "Koo Baked Beans site:checkers.co.za")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "https://cdn.example/1.jpg", candidates[0].ImageURL)
	assert.Equal(t, "EAN 6001234567890", candidates[0].Snippet)
	assert.Equal(t, 800, candidates[0].Width)
	assert.Equal(t, "www.shoprite.co.za", candidates[1].Source)
}

func TestProviderPermanentErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvider(config.SearchConfig{Key: "bad", BaseURL: srv.URL})

	_, err := p.SearchImages(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestProviderRetriesTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images_results": [{"title": "x", "original": "https://cdn.example/x.jpg", "source": "s"}]}`))
	}))
	defer srv.Close()

	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = 1 // effectively immediate
	p := NewProvider(config.SearchConfig{Key: "k", BaseURL: srv.URL}, WithRetry(retry))

	candidates, err := p.SearchImages(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, 2, calls)
}
