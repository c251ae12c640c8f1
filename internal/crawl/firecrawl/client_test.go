package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientCrawlPollsUntilComplete(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/crawl":
			var req startRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "https://www.nmkr.io/", req.URL)
			require.Equal(t, 10, req.Limit)
			require.Equal(t, []string{"markdown"}, req.ScrapeOptions.Formats)
			_ = json.NewEncoder(w).Encode(startResponse{Success: true, ID: "crawl-1"})
		case r.URL.Path == "/v1/crawl/crawl-1":
			if polls.Add(1) < 2 {
				_ = json.NewEncoder(w).Encode(statusResponse{Status: "scraping"})
				return
			}
			_ = json.NewEncoder(w).Encode(statusResponse{
				Status: "completed",
				Data: []document{{
					Markdown: "# Pricing\n\nAirdrops   cost ADA",
					Metadata: metadata{SourceURL: "https://www.nmkr.io/pricing", StatusCode: 200},
				}},
				Next: srvURL + "/v1/crawl/crawl-1/page2",
			})
		case r.URL.Path == "/v1/crawl/crawl-1/page2":
			_ = json.NewEncoder(w).Encode(statusResponse{
				Status: "completed",
				Data: []document{{
					Metadata: metadata{SourceURL: "https://www.nmkr.io/missing", StatusCode: 404},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c, err := New("fc-key", WithBaseURL(srv.URL), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	pages, err := c.Crawl(context.Background(), "https://www.nmkr.io/", 10, 3)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "https://www.nmkr.io/pricing", pages[0].URL)
	require.Equal(t, "# Pricing Airdrops cost ADA", pages[0].Text)
	require.ErrorContains(t, pages[1].Err, "404")
	require.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestClientCrawlFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(startResponse{Success: true, ID: "x"})
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "failed", Error: "blocked"})
	}))
	defer srv.Close()

	c, err := New("fc-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	_, err = c.Crawl(context.Background(), "https://www.nmkr.io/", 10, 3)
	require.ErrorContains(t, err, "failed: blocked")
}

func TestClientCrawlStartRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New("bad", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Crawl(context.Background(), "https://www.nmkr.io/", 10, 3)
	require.ErrorContains(t, err, "status 401")
}

func TestClientCrawlHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(startResponse{Success: true, ID: "slow"})
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "scraping"})
	}))
	defer srv.Close()

	c, err := New("fc-key", WithBaseURL(srv.URL), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.Crawl(ctx, "https://www.nmkr.io/", 10, 3)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
