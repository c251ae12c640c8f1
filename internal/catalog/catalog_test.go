package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	t.Parallel()

	c, err := Load("", "")
	require.NoError(t, err)
	require.NotEmpty(t, c.Site)
	require.NotEmpty(t, c.Docs)
	require.True(t, c.Contains("https://www.nmkr.io/pricing"))
	require.True(t, c.Contains("https://docs.nmkr.io/nmkr-studio/airdrops/"))
	require.True(t, c.Contains(SwaggerURL))
	require.False(t, c.Contains("https://evil.example/phish"))
}

func TestLoadFromFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	site := filepath.Join(dir, "site.json")
	require.NoError(t, os.WriteFile(site, []byte(`[{"url":"https://www.nmkr.io/x","description":"X"}]`), 0o600))

	c, err := Load(site, "")
	require.NoError(t, err)
	require.Len(t, c.Site, 1)
	require.True(t, c.Contains("https://www.nmkr.io/x"))
	require.NotEmpty(t, c.Docs)

	_, err = Load(filepath.Join(dir, "missing.json"), "")
	require.ErrorContains(t, err, "load site links")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"description":"no url"}]`), 0o600))
	_, err = Load("", bad)
	require.ErrorContains(t, err, "has no url")
}

func TestFilter(t *testing.T) {
	t.Parallel()

	c := New(
		[]Link{{URL: "https://www.nmkr.io/pricing"}},
		[]Link{{URL: "https://docs.nmkr.io/a"}, {URL: "https://docs.nmkr.io/b"}, {URL: "https://docs.nmkr.io/c"}},
	)
	got := c.Filter([]string{
		"https://docs.nmkr.io/a",
		"https://made.up/link",
		"https://docs.nmkr.io/a/",
		" https://www.nmkr.io/pricing ",
		"https://docs.nmkr.io/b",
		"https://docs.nmkr.io/c",
	}, 3)
	require.Equal(t, []string{"https://docs.nmkr.io/a", "https://www.nmkr.io/pricing", "https://docs.nmkr.io/b"}, got)
	require.Len(t, c.Filter([]string{"https://docs.nmkr.io/a", "https://docs.nmkr.io/b", "https://docs.nmkr.io/c"}, 0), 3)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	out := Format([]Link{{URL: "https://a", Description: "first"}, {URL: "https://b"}})
	require.Equal(t, "- https://a: first\n- https://b\n", out)
}

func TestParseLinksRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseLinks(strings.NewReader("{"))
	require.Error(t, err)
}
