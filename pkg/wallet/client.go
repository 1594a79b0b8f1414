package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://services.leadconnectorhq.com"

// Client checks funds and posts metered charges against the wallet API.
type Client interface {
	HasFunds(ctx context.Context, companyID string) (bool, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
}

// ChargeRequest is the request body for POST /wallet/charges. EventID is the
// caller's idempotency key for the charge.
type ChargeRequest struct {
	AppID       string  `json:"appId"`
	MeterID     string  `json:"meterId"`
	EventID     string  `json:"eventId"`
	UserID      string  `json:"userId,omitempty"`
	LocationID  string  `json:"locationId,omitempty"`
	CompanyID   string  `json:"companyId,omitempty"`
	Units       float64 `json:"units"`
	Description string  `json:"description,omitempty"`
	EventTime   string  `json:"eventTime,omitempty"`
}

// ChargeResponse is the response from POST /wallet/charges.
type ChargeResponse struct {
	ChargeID string `json:"chargeId"`
}

type hasFundsResponse struct {
	HasFunds bool `json:"hasFunds"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a wallet API client authenticating with an app-level key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) HasFunds(ctx context.Context, companyID string) (bool, error) {
	endpoint := c.baseURL + "/wallet/has-funds?companyId=" + url.QueryEscape(companyID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, eris.Wrap(err, "wallet: create request")
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, eris.Wrap(err, "wallet: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "wallet: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return false, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result hasFundsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, eris.Wrap(err, "wallet: unmarshal has-funds response")
	}

	return result.HasFunds, nil
}

func (c *httpClient) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "wallet: marshal charge")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/wallet/charges", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "wallet: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "wallet: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "wallet: read response")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result ChargeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "wallet: unmarshal charge response")
	}

	if result.ChargeID == "" {
		return nil, eris.New("wallet: charge response missing chargeId")
	}

	return &result, nil
}

func (c *httpClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

// APIError is a non-2xx response from the API, with the raw body preserved
// for diagnosis.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet: unexpected status %d: %s", e.StatusCode, e.Body)
}
