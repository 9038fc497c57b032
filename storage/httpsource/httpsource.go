// Package httpsource fetches service-mode bundles from the operator's
// download endpoint.
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"everstone.io/anchor/storage"
)

// Source fetches a bundle by record reference from BaseURL, as
// <BaseURL>/<reference>/download.
//
// Every request carries a cache-busting query parameter: a bundle can be
// re-exported after corrections, and a stale intermediary copy would fail
// the integrity check for no real reason.
type Source struct {
	BaseURL    string
	HTTPClient *http.Client

	// now is overridable for tests.
	now func() time.Time
}

func New(baseURL string) *Source {
	return &Source{BaseURL: baseURL}
}

func (s *Source) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("%w: no service endpoint configured", storage.ErrUnavailable)
	}

	now := s.now
	if now == nil {
		now = time.Now
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	u = u.JoinPath(url.PathEscape(ref), "download")
	q := u.Query()
	q.Set("t", strconv.FormatInt(now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: no bundle for %q", storage.ErrNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %s", storage.ErrUnavailable, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
