package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "snapshots"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsSnapshot(t *testing.T) {
	t.Parallel()

	const object = "crawl/docs.nmkr.io/abc.txt"
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/upload/storage/v1/b/snapshots/o")
		require.Equal(t, object, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), "airdrop guide")
		fmt.Fprintln(w, `{"name": "`+object+`", "bucket": "snapshots"}`)
	}))

	uri, err := store.PutObject(context.Background(), object, "text/plain; charset=utf-8", strings.NewReader("airdrop guide"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/"+object, uri)
}

func TestPutObjectRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := store.PutObject(context.Background(), "x.txt", "", strings.NewReader("data"))
	require.Error(t, err)
	require.ErrorIs(t, err, support.ErrStoreUnavailable)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("data"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}
