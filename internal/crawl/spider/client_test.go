package spider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crawl", r.URL.Path)
		require.Equal(t, "Bearer sp-key", r.Header.Get("Authorization"))
		var req crawlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://docs.nmkr.io/", req.URL)
		require.Equal(t, 2, req.Limit)
		require.Equal(t, 3, req.Depth)
		_ = json.NewEncoder(w).Encode([]crawledPage{
			{URL: "https://docs.nmkr.io/", Content: "Welcome  to\nNMKR", StatusCode: 200},
			{URL: "https://docs.nmkr.io/gone", StatusCode: 404},
			{URL: "https://docs.nmkr.io/extra", Content: "over the limit", StatusCode: 200},
		})
	}))
	defer srv.Close()

	c, err := New("sp-key", WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)
	pages, err := c.Crawl(context.Background(), "https://docs.nmkr.io/", 2, 3)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "Welcome to NMKR", pages[0].Text)
	require.NoError(t, pages[0].Err)
	require.ErrorContains(t, pages[1].Err, "404")
}

func TestClientCrawlHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "insufficient credits", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c, err := New("sp-key", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Crawl(context.Background(), "https://docs.nmkr.io/", 2, 3)
	require.ErrorContains(t, err, "status 402: insufficient credits")
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
