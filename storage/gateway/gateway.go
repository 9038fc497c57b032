// Package gateway retrieves content-addressed bundles through public HTTP
// gateways.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"everstone.io/anchor/storage"
)

// DefaultEndpoints is the conventional public gateway order.
var DefaultEndpoints = []string{
	"https://ipfs.io/ipfs/",
	"https://gateway.pinata.cloud/ipfs/",
	"https://cloudflare-ipfs.com/ipfs/",
}

// DefaultAttemptTimeout bounds each gateway attempt.
const DefaultAttemptTimeout = 5 * time.Second

// Source fetches bundle bytes by CID from an ordered list of gateways.
//
// Attempts are strictly sequential with a per-attempt deadline: the first
// gateway to answer wins and its bytes are never mixed with a later
// attempt's. The order is fixed so "which gateway served the bytes" has one
// answer.
type Source struct {
	Endpoints      []string
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
}

// New returns a Source over the given endpoints, or the defaults when none
// are given.
func New(endpoints ...string) *Source {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	return &Source{Endpoints: endpoints, AttemptTimeout: DefaultAttemptTimeout}
}

// Fetch retrieves the object addressed by the CID string ref.
//
// When every gateway fails, the returned error wraps storage.ErrUnavailable
// and names each gateway's failure so retrieval can be debugged per hop.
func (s *Source) Fetch(ctx context.Context, ref string) ([]byte, error) {
	b, _, err := s.FetchProvenance(ctx, ref)
	return b, err
}

// FetchProvenance is Fetch plus the endpoint that served the bytes.
func (s *Source) FetchProvenance(ctx context.Context, ref string) ([]byte, string, error) {
	if _, err := cid.Decode(ref); err != nil {
		return nil, "", fmt.Errorf("%w: %q: %v", storage.ErrInvalidCID, ref, err)
	}
	if len(s.Endpoints) == 0 {
		return nil, "", fmt.Errorf("%w: no gateways configured", storage.ErrUnavailable)
	}

	timeout := s.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	var failures []string
	for _, endpoint := range s.Endpoints {
		b, err := s.attempt(ctx, client, endpoint, ref, timeout)
		if err == nil {
			return b, endpoint, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		failures = append(failures, fmt.Sprintf("%s: %v", endpoint, err))
	}
	return nil, "", fmt.Errorf("%w: %s", storage.ErrUnavailable, strings.Join(failures, "; "))
}

func (s *Source) attempt(ctx context.Context, client *http.Client, endpoint, ref string, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := endpoint
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url+ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, storage.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
