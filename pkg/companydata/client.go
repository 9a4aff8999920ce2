// Package companydata is a client for the firmographic enrichment API.
package companydata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.companydata.io/v2"

// Client defines the enrichment API operations.
type Client interface {
	Lookup(ctx context.Context, entityKey string) (*CompanyRecord, error)
}

// CompanyRecord is a firmographic record as the API returns it.
type CompanyRecord struct {
	Name          string `json:"name"`
	Industry      string `json:"industry"`
	IndustryCode  string `json:"industry_code"`
	SizeTier      string `json:"size_tier"`
	EmployeeCount int    `json:"employee_count"`
	FoundedYear   int    `json:"founded_year"`
	Website       string `json:"website"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	City          string `json:"city"`
	State         string `json:"state"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("companydata: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new enrichment API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(5, 5),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup fetches the firmographic record for an entity key. A 404 means the
// API has never heard of the entity and returns (nil, nil).
func (c *httpClient) Lookup(ctx context.Context, entityKey string) (*CompanyRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "companydata: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/companies/"+url.PathEscape(entityKey), nil)
	if err != nil {
		return nil, eris.Wrap(err, "companydata: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "companydata: lookup %s", entityKey)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var record CompanyRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, eris.Wrapf(err, "companydata: decode %s", entityKey)
	}
	return &record, nil
}
