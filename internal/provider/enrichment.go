package provider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/resilience"
	"github.com/sells-group/profile-service/pkg/companydata"
)

// EnrichmentProvider fetches firmographics from the enrichment API behind a
// retry policy and a circuit breaker. Transient upstream failures are
// retried; a tripped breaker fails fast until the API recovers.
type EnrichmentProvider struct {
	client  companydata.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewEnrichmentProvider wraps client with the given retry and breaker
// settings. Zero-valued config fields take the package defaults.
func NewEnrichmentProvider(client companydata.Client, retry resilience.RetryConfig, breaker resilience.CircuitBreakerConfig) *EnrichmentProvider {
	retry.OnRetry = resilience.RetryLogger("companydata", "lookup")
	return &EnrichmentProvider{
		client:  client,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker("companydata", breaker),
	}
}

func (p *EnrichmentProvider) Kind() model.SourceKind {
	return model.SourceEnrichment
}

func (p *EnrichmentProvider) Fetch(ctx context.Context, entityKey string) (*model.SourceUpdate, error) {
	record, err := resilience.Do(ctx, p.retry, func(ctx context.Context) (*companydata.CompanyRecord, error) {
		return resilience.Execute(ctx, p.breaker, func(ctx context.Context) (*companydata.CompanyRecord, error) {
			r, err := p.client.Lookup(ctx, entityKey)
			return r, classifyAPIError(err)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "provider: enrichment fetch %s", entityKey)
	}
	if record == nil {
		return nil, nil
	}

	payload := model.EnrichmentPayload{
		CompanyName:   record.Name,
		Industry:      record.Industry,
		IndustryCode:  record.IndustryCode,
		SizeTier:      record.SizeTier,
		EmployeeCount: record.EmployeeCount,
		FoundedYear:   record.FoundedYear,
		Website:       record.Website,
		Phone:         record.Phone,
		Email:         record.Email,
		City:          record.City,
		State:         record.State,
	}
	return &model.SourceUpdate{Kind: model.SourceEnrichment, Enrichment: &payload}, nil
}

// classifyAPIError marks retryable HTTP statuses as transient so the retry
// policy only re-attempts what is worth re-attempting.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *companydata.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
