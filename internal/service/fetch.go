package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrTransient marks a fetch failure worth retrying: timeouts, connection
// resets, server-side errors. Permanent failures (4xx) are returned as plain
// errors.
var ErrTransient = errors.New("transient fetch error")

// Fetcher retrieves a document body by URL.
type Fetcher interface {
	// Fetch returns the response body. Errors wrapping ErrTransient may be
	// retried; any other error is permanent.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher implements Fetcher over resty with per-request timeouts.
// Retrying is the caller's concern, so the client's own retry is off.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates an HTTP fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(0)
	return &HTTPFetcher{client: client}
}

// Fetch retrieves the URL body, classifying the failure mode.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: timeout fetching %s: %v", ErrTransient, url, err)
		}
		// Connection-level failures (reset, refused, DNS) are transient.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return resp.Body(), nil
	case code == 429 || code >= 500:
		return nil, fmt.Errorf("%w: status %d from %s", ErrTransient, code, url)
	default:
		return nil, fmt.Errorf("status %d from %s", code, url)
	}
}
