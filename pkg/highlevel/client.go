package highlevel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://services.leadconnectorhq.com"

	// apiVersion is the Version header required on contact endpoints.
	apiVersion = "2021-07-28"
)

// Client performs contact and OAuth operations against the HighLevel API.
// Contact calls authenticate with the per-location bearer token supplied by
// the caller; RefreshToken uses the app's OAuth client credentials.
type Client interface {
	GetContact(ctx context.Context, token, contactID string) (*Contact, error)
	UpdateContact(ctx context.Context, token, contactID string, update ContactUpdate) (*Contact, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithTokenURL overrides the OAuth token endpoint. When unset the endpoint
// is derived from the base URL.
func WithTokenURL(url string) Option {
	return func(c *httpClient) {
		c.tokenURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	http         *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a HighLevel API client.
func NewClient(clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// APIError is a non-2xx response from the API, with the raw body preserved
// for diagnosis.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("highlevel: unexpected status %d: %s", e.StatusCode, e.Body)
}
