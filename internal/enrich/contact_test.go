package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/pkg/apollo"
)

func TestContactEnrichExistingEmail(t *testing.T) {
	provider := new(mockApolloClient)
	enricher := NewContactEnricher(provider, 0)

	lead := &model.Lead{ID: "l1", Email: "jane@acme.com"}
	credits, err := enricher.Enrich(context.Background(), lead)
	require.NoError(t, err)

	assert.Zero(t, credits)
	assert.Equal(t, "jane@acme.com", lead.StringAttr("email"))
	assert.Equal(t, "input", lead.StringAttr("contactSource"))
	provider.AssertNotCalled(t, "MatchPerson", mock.Anything, mock.Anything)
}

func TestContactEnrichMatch(t *testing.T) {
	provider := new(mockApolloClient)
	provider.On("MatchPerson", mock.Anything, mock.MatchedBy(func(req apollo.PersonMatchRequest) bool {
		return req.FirstName == "Jane" && req.Domain == "acme.com" && req.RevealEmails
	})).Return(&apollo.Person{Email: "jane@acme.com", EmailStatus: "verified"}, nil).Once()

	enricher := NewContactEnricher(provider, 0)
	lead := &model.Lead{ID: "l1", FirstName: "Jane", LastName: "Doe", CompanyDomain: "https://www.acme.com"}

	credits, err := enricher.Enrich(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, 1, credits)
	assert.Equal(t, "jane@acme.com", lead.StringAttr("email"))
	assert.Equal(t, "verified", lead.StringAttr("emailStatus"))
	assert.Equal(t, "apollo", lead.StringAttr("contactSource"))
	provider.AssertExpectations(t)
}

func TestContactEnrichIdempotent(t *testing.T) {
	provider := new(mockApolloClient)
	enricher := NewContactEnricher(provider, 0)

	lead := &model.Lead{ID: "l1", FirstName: "Jane", CompanyDomain: "acme.com"}
	lead.SetAttr("contactSource", "apollo")

	credits, err := enricher.Enrich(context.Background(), lead)
	require.NoError(t, err)
	assert.Zero(t, credits)
	provider.AssertNotCalled(t, "MatchPerson", mock.Anything, mock.Anything)
}

func TestContactEnrichRetriesOnce(t *testing.T) {
	provider := new(mockApolloClient)
	provider.On("MatchPerson", mock.Anything, mock.Anything).
		Return(nil, eris.New("status 500")).
		Once()
	provider.On("MatchPerson", mock.Anything, mock.Anything).
		Return(&apollo.Person{Email: "jane@acme.com", EmailStatus: "guessed"}, nil).
		Once()

	enricher := NewContactEnricher(provider, time.Millisecond)
	lead := &model.Lead{ID: "l1", FirstName: "Jane", CompanyDomain: "acme.com"}

	credits, err := enricher.Enrich(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, 1, credits)
	provider.AssertExpectations(t)
}

func TestContactEnrichNoIdentity(t *testing.T) {
	provider := new(mockApolloClient)
	enricher := NewContactEnricher(provider, 0)

	lead := &model.Lead{ID: "l1", FirstName: "Jane"}
	_, err := enricher.Enrich(context.Background(), lead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no person identity")
	provider.AssertNotCalled(t, "MatchPerson", mock.Anything, mock.Anything)
}

func TestContactEnrichNoMatch(t *testing.T) {
	provider := new(mockApolloClient)
	provider.On("MatchPerson", mock.Anything, mock.Anything).
		Return(nil, eris.New("no person match")).
		Times(2)

	enricher := NewContactEnricher(provider, time.Millisecond)
	lead := &model.Lead{ID: "l1", FirstName: "Jane", CompanyDomain: "acme.com"}

	_, err := enricher.Enrich(context.Background(), lead)
	require.Error(t, err)
	assert.Empty(t, lead.StringAttr("contactSource"))
}
