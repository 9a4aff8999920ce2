package provider

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/resilience"
	"github.com/sells-group/profile-service/pkg/companydata"
)

type fakeCompanyClient struct {
	record *companydata.CompanyRecord
	errs   []error
	calls  int
}

func (f *fakeCompanyClient) Lookup(context.Context, string) (*companydata.CompanyRecord, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.record, nil
}

func fastRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	return cfg
}

func TestEnrichmentProvider_Fetch(t *testing.T) {
	client := &fakeCompanyClient{record: &companydata.CompanyRecord{
		Name:        "Acme Builders Inc",
		Industry:    "construction",
		SizeTier:    "medium",
		FoundedYear: 1998,
	}}
	p := NewEnrichmentProvider(client, resilience.RetryConfig{}, resilience.CircuitBreakerConfig{})
	assert.Equal(t, model.SourceEnrichment, p.Kind())

	u, err := p.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Acme Builders Inc", u.Enrichment.CompanyName)
	assert.Equal(t, 1998, u.Enrichment.FoundedYear)
}

func TestEnrichmentProvider_UnknownEntity(t *testing.T) {
	p := NewEnrichmentProvider(&fakeCompanyClient{}, resilience.RetryConfig{}, resilience.CircuitBreakerConfig{})

	u, err := p.Fetch(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestEnrichmentProvider_RetriesTransientStatus(t *testing.T) {
	client := &fakeCompanyClient{
		record: &companydata.CompanyRecord{Name: "Acme Builders Inc"},
		errs:   []error{&companydata.APIError{StatusCode: 503, Body: "busy"}},
	}
	p := NewEnrichmentProvider(client, fastRetry(), resilience.CircuitBreakerConfig{})

	u, err := p.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 2, client.calls, "one retry after the 503")
}

func TestEnrichmentProvider_PermanentErrorNotRetried(t *testing.T) {
	client := &fakeCompanyClient{
		errs: []error{
			&companydata.APIError{StatusCode: 401, Body: "bad key"},
			&companydata.APIError{StatusCode: 401, Body: "bad key"},
			&companydata.APIError{StatusCode: 401, Body: "bad key"},
		},
	}
	p := NewEnrichmentProvider(client, fastRetry(), resilience.CircuitBreakerConfig{})

	_, err := p.Fetch(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "auth failures are permanent")
}

func TestEnrichmentProvider_ConfiguredRetryBudget(t *testing.T) {
	client := &fakeCompanyClient{
		errs: []error{
			&companydata.APIError{StatusCode: 503, Body: "busy"},
			&companydata.APIError{StatusCode: 503, Body: "busy"},
			&companydata.APIError{StatusCode: 503, Body: "busy"},
		},
	}
	p := NewEnrichmentProvider(client,
		resilience.FromRetryConfig(2, 1, 1, 2.0, 0),
		resilience.FromCircuitConfig(10, 1))

	_, err := p.Fetch(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, 2, client.calls, "attempt budget comes from the settings, not the package default")
}

func TestEnrichmentProvider_BreakerFailsFast(t *testing.T) {
	client := &fakeCompanyClient{
		errs: []error{
			&companydata.APIError{StatusCode: 502, Body: "upstream down"},
			&companydata.APIError{StatusCode: 502, Body: "upstream down"},
			&companydata.APIError{StatusCode: 502, Body: "upstream down"},
		},
	}
	p := NewEnrichmentProvider(client, fastRetry(), resilience.FromCircuitConfig(3, 60))

	_, err := p.Fetch(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, 3, client.calls, "third failure opens the circuit")

	_, err = p.Fetch(context.Background(), "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 3, client.calls, "open circuit rejects without calling the API")
}

func TestClassifyAPIError(t *testing.T) {
	assert.NoError(t, classifyAPIError(nil))

	transient := classifyAPIError(&companydata.APIError{StatusCode: 502})
	assert.True(t, resilience.IsTransient(transient))

	permanent := classifyAPIError(&companydata.APIError{StatusCode: 404})
	assert.False(t, resilience.IsTransient(permanent))

	other := eris.New("parse failure")
	assert.False(t, resilience.IsTransient(classifyAPIError(other)))
}
