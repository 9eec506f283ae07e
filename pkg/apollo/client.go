package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.apollo.io/v1"

// Client performs organization and people enrichment against the Apollo API.
// Each successful enrichment call consumes one credit.
type Client interface {
	EnrichOrganization(ctx context.Context, domain string) (*Organization, error)
	MatchPerson(ctx context.Context, req PersonMatchRequest) (*Person, error)
	// Health verifies connectivity and credentials without consuming credits.
	Health(ctx context.Context) error
}

// Organization is the enrichment result for a company.
type Organization struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Domain        string  `json:"primary_domain"`
	Industry      string  `json:"industry"`
	EmployeeCount int     `json:"estimated_num_employees"`
	AnnualRevenue float64 `json:"annual_revenue"`
	LinkedInURL   string  `json:"linkedin_url"`
}

// PersonMatchRequest identifies a person to match.
type PersonMatchRequest struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Title        string `json:"title,omitempty"`
	Domain       string `json:"domain,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty"`
	RevealEmails bool   `json:"reveal_personal_emails"`
}

// Person is the match result for a contact.
type Person struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	EmailStatus string `json:"email_status"`
	LinkedInURL string `json:"linkedin_url"`
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

// WithRateLimit caps outbound request rate. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an Apollo API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
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

func (c *httpClient) EnrichOrganization(ctx context.Context, domain string) (*Organization, error) {
	if domain == "" {
		return nil, eris.New("apollo: empty domain")
	}

	var result struct {
		Organization *Organization `json:"organization"`
	}
	if err := c.post(ctx, "/organizations/enrich", map[string]any{"domain": domain}, &result); err != nil {
		return nil, err
	}
	if result.Organization == nil {
		return nil, eris.Errorf("apollo: no organization found for %s", domain)
	}
	return result.Organization, nil
}

func (c *httpClient) MatchPerson(ctx context.Context, req PersonMatchRequest) (*Person, error) {
	var result struct {
		Person *Person `json:"person"`
	}
	if err := c.post(ctx, "/people/match", req, &result); err != nil {
		return nil, err
	}
	if result.Person == nil {
		return nil, eris.New("apollo: no person match")
	}
	return result.Person, nil
}

func (c *httpClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/health", nil)
	if err != nil {
		return eris.Wrap(err, "apollo: create health request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "apollo: health request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("apollo: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "apollo: rate limit wait")
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "apollo: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "apollo: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrapf(err, "apollo: POST %s", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "apollo: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("apollo: unexpected status %d on %s: %s", resp.StatusCode, path, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "apollo: unmarshal %s response", path)
	}

	return nil
}
