package resolver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const defaultHTTPTimeout = 5 * time.Second

// RemoteStrategy asks the origin server for the size of a file whose source
// URL is known.
type RemoteStrategy struct {
	client  *http.Client
	timeout time.Duration
	sources *SourceRegistry
}

// NewRemoteStrategy creates the strategy. A nil client uses
// http.DefaultClient, which follows redirects.
func NewRemoteStrategy(client *http.Client, timeout time.Duration, sources *SourceRegistry) *RemoteStrategy {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &RemoteStrategy{
		client:  client,
		timeout: timeout,
		sources: sources,
	}
}

func (s *RemoteStrategy) Name() string { return "remote HEAD" }

func (s *RemoteStrategy) Resolve(ctx context.Context, req Request) (int64, error) {
	url := req.SourceURL
	if url == "" && s.sources != nil {
		url = s.sources.Lookup(req.Path)
	}
	if url == "" {
		return 0, ErrUnknownSize
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "DownloadNotifier/1.0")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("HEAD %s returned status %d", url, resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		return n, nil
	}
	return 0, ErrUnknownSize
}
