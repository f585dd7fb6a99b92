package blocklist

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsExactMatchOnly(t *testing.T) {
	s := New([]string{"ads.example.net", "Tracker.Example.COM"})

	assert.True(t, s.Contains("ads.example.net"))
	assert.True(t, s.Contains("tracker.example.com"), "lookup must normalize case")
	assert.False(t, s.Contains("sub.ads.example.net"), "no subdomain implication")
	assert.False(t, s.Contains("example.net"))
}

func TestParseLinesAppliesFilterRules(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"",
		"ads.example.net",
		"ab",            // too short
		"nodothere",     // no dot
		"  spaced.example.com  ",
	}, "\n")

	got := ParseLines(strings.NewReader(input))
	assert.Equal(t, []string{"ads.example.net", "spaced.example.com"}, got)
}

type stubFetcher struct {
	bodies map[string]string
	errs   map[string]error
}

func (f stubFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	if err, ok := f.errs[uri]; ok {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.bodies[uri])), nil
}

func TestLoadMergesExplicitAndRemoteAndToleratesFailures(t *testing.T) {
	f := stubFetcher{
		bodies: map[string]string{
			"https://good/list.txt": "remote.example.com\n",
		},
		errs: map[string]error{
			"https://bad/list.txt": errors.New("connection refused"),
		},
	}

	set, errs := Load(context.Background(), []string{"explicit.example.com"},
		[]string{"https://good/list.txt", "https://bad/list.txt"}, f)

	require.Len(t, errs, 1)
	assert.True(t, set.Contains("explicit.example.com"))
	assert.True(t, set.Contains("remote.example.com"))
	assert.Equal(t, 2, set.Len())
}
