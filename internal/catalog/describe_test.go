package catalog

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type mapFetcher map[string]string

func (m mapFetcher) FetchText(_ context.Context, url string) (string, error) {
	text, ok := m[url]
	if !ok {
		return "", errors.New("404")
	}
	return text, nil
}

type recordingGen struct {
	inputs []string
	fail   bool
}

func (g *recordingGen) Generate(_ context.Context, system, user string, _ ...llms.CallOption) (string, error) {
	if g.fail {
		return "", errors.New("quota")
	}
	g.inputs = append(g.inputs, user)
	if system != describePrompt {
		return "", errors.New("unexpected prompt")
	}
	return "Describes " + user[:4], nil
}

func TestDescriberDescribe(t *testing.T) {
	t.Parallel()

	fetcher := mapFetcher{
		"https://a": strings.Repeat("a", 800),
		"https://b": "Bulk airdrops",
		"https://c": "   ",
	}
	gen := &recordingGen{}
	d := NewDescriber(fetcher, gen, time.Millisecond, nil)

	links, err := d.Describe(context.Background(), []string{"https://a", "https://b", "https://c", "https://missing"})
	require.NoError(t, err)
	require.Equal(t, []Link{
		{URL: "https://a", Description: "Describes aaaa"},
		{URL: "https://b", Description: "Describes Bulk"},
		{URL: "https://c"},
		{URL: "https://missing"},
	}, links)
	require.Len(t, gen.inputs[0], excerptChars)
}

func TestDescriberLLMFailure(t *testing.T) {
	t.Parallel()

	d := NewDescriber(mapFetcher{"https://a": "text"}, &recordingGen{fail: true}, 0, nil)
	links, err := d.Describe(context.Background(), []string{"https://a"})
	require.NoError(t, err)
	require.Equal(t, []Link{{URL: "https://a"}}, links)
}

func TestDescriberCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDescriber(mapFetcher{"https://a": "text"}, &recordingGen{}, time.Hour, nil)
	links, err := d.Describe(ctx, []string{"https://a", "https://b"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, links, 1)
}

func TestReadAndWriteLinks(t *testing.T) {
	t.Parallel()

	urls, err := ReadURLs(strings.NewReader("https://a\n\n  https://b  \n"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://a", "https://b"}, urls)

	var buf bytes.Buffer
	require.NoError(t, WriteLinks(&buf, []Link{{URL: "https://a", Description: "A"}}))
	links, err := ParseLinks(&buf)
	require.NoError(t, err)
	require.Equal(t, []Link{{URL: "https://a", Description: "A"}}, links)
}
