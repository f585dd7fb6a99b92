// Package fetch provides the default HTTP implementation of
// blocklist.Fetcher. spec.md §1 explicitly places the blocklist
// fetching/HTTP client outside the core's scope — "only the resulting
// set is consumed" — so this package is a thin, separately testable
// leaf the core never imports directly.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher fetches remote blocklists over plain net/http. The
// teacher pack has no ecosystem HTTP client (no resty/req/etc.) for
// this narrow, one-shot-at-startup use, so stdlib net/http is used
// directly rather than introducing a dependency the rest of the corpus
// never reaches for.
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPFetcher builds a Fetcher with a sane request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

// Fetch retrieves uri and returns its body. The caller is responsible
// for closing the returned ReadCloser.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", uri, resp.Status)
	}
	return resp.Body, nil
}
