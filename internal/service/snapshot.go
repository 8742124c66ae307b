package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SnapshotFetcher returns a fresh camera frame as encoded bytes. The
// alert path requires one: a failed fetch defers the alert to the next
// tick instead of sending it without a picture.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type HTTPSnapshotFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPSnapshotFetcher(url string) *HTTPSnapshotFetcher {
	return &HTTPSnapshotFetcher{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (f *HTTPSnapshotFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.url == "" {
		return nil, fmt.Errorf("%w: no snapshot url configured", ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot fetch: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: snapshot fetch returned %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot read: %v", ErrUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", ErrUnavailable)
	}
	return body, nil
}
