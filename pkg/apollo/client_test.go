package apollo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichOrganization_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/organizations/enrich", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acme.com", body["domain"])

		json.NewEncoder(w).Encode(map[string]any{
			"organization": map[string]any{
				"id":                      "org-1",
				"name":                    "Acme",
				"primary_domain":          "acme.com",
				"industry":                "manufacturing",
				"estimated_num_employees": 120,
				"annual_revenue":          25000000.0,
			},
		})
	}))
	defer ts.Close()

	c := NewClient("secret", WithBaseURL(ts.URL))
	org, err := c.EnrichOrganization(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, 120, org.EmployeeCount)
	assert.InDelta(t, 25000000.0, org.AnnualRevenue, 0.001)
}

func TestEnrichOrganization_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"organization": nil})
	}))
	defer ts.Close()

	c := NewClient("secret", WithBaseURL(ts.URL))
	_, err := c.EnrichOrganization(context.Background(), "unknown.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no organization found")
}

func TestEnrichOrganization_EmptyDomain(t *testing.T) {
	c := NewClient("secret")
	_, err := c.EnrichOrganization(context.Background(), "")
	assert.Error(t, err)
}

func TestMatchPerson_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/people/match", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"person": map[string]any{
				"id":           "p-1",
				"first_name":   "Jane",
				"last_name":    "Doe",
				"email":        "jane@acme.com",
				"email_status": "verified",
			},
		})
	}))
	defer ts.Close()

	c := NewClient("secret", WithBaseURL(ts.URL))
	p, err := c.MatchPerson(context.Background(), PersonMatchRequest{
		FirstName: "Jane", LastName: "Doe", Domain: "acme.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", p.Email)
	assert.Equal(t, "verified", p.EmailStatus)
}

func TestPost_ErrorStatusSurfacesBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"insufficient credits"}`))
	}))
	defer ts.Close()

	c := NewClient("secret", WithBaseURL(ts.URL))
	_, err := c.EnrichOrganization(context.Background(), "acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
	assert.Contains(t, err.Error(), "insufficient credits")
}

func TestHealth(t *testing.T) {
	healthy := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/health", r.URL.Path)
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer ts.Close()

	c := NewClient("secret", WithBaseURL(ts.URL))
	assert.NoError(t, c.Health(context.Background()))

	healthy = false
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
