// Package httpclient builds the resty clients shared by every provider
// integration. Retry policy: transient failures (connection errors, 5xx,
// 429) retried with exponential backoff plus jitter up to five attempts,
// honoring Retry-After, and only for idempotent requests. The OAuth token
// POST opts in because the token endpoint is idempotent from the client's
// perspective.
package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

const (
	// AttemptTimeout bounds a single HTTP attempt.
	AttemptTimeout = 10 * time.Second
	// TotalTimeout bounds an outbound call including retries; providers
	// apply it to the request context around each catalog call.
	TotalTimeout = 20 * time.Second
	// StoreTimeout bounds object store round-trips.
	StoreTimeout = 30 * time.Second

	maxRetries    = 4 // five attempts total
	retryWaitMin  = 500 * time.Millisecond
	retryWaitMax  = 8 * time.Second
	retryAfterCap = 30 * time.Second
)

// New returns a resty client configured with the shared retry policy.
func New() *resty.Client {
	client := resty.New().
		SetTimeout(AttemptTimeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(retryWaitMin).
		SetRetryMaxWaitTime(retryWaitMax).
		AddRetryCondition(retryable).
		SetRetryAfter(retryAfter)
	return client
}

// NewNoRedirect returns a client that performs a single request without
// following redirects, used to resolve short links by reading Location.
func NewNoRedirect() *resty.Client {
	return resty.New().
		SetTimeout(AttemptTimeout).
		SetRedirectPolicy(resty.NoRedirectPolicy())
}

func retryable(resp *resty.Response, err error) bool {
	if resp != nil && resp.Request != nil {
		switch resp.Request.Method {
		case http.MethodGet, http.MethodHead:
		default:
			return false
		}
	}
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// retryAfter honors the server's Retry-After header when present, capped so
// a hostile value cannot stall the worker; otherwise resty falls back to its
// exponential backoff with jitter.
func retryAfter(client *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}
	if h := resp.Header().Get("Retry-After"); h != "" {
		if secs, err := time.ParseDuration(h + "s"); err == nil {
			if secs > retryAfterCap {
				return retryAfterCap, nil
			}
			return secs, nil
		}
	}
	return 0, nil
}

// StdClient returns a plain http.Client for libraries that take one
// directly. Object store round-trips get the longer store timeout.
func StdClient() *http.Client {
	return &http.Client{Timeout: StoreTimeout}
}

// TokenContext injects a retrying HTTP client into an oauth2 token request
// context. The token endpoint POST is idempotent from the client's
// perspective, so it shares the transient-retry policy.
func TokenContext(ctx context.Context) context.Context {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.Logger = nil
	return context.WithValue(ctx, oauth2.HTTPClient, rc.StandardClient())
}
