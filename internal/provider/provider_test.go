package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/model"
)

type stubProvider struct {
	kind model.SourceKind
}

func (s *stubProvider) Kind() model.SourceKind { return s.kind }

func (s *stubProvider) Fetch(context.Context, string) (*model.SourceUpdate, error) {
	return &model.SourceUpdate{Kind: s.kind}, nil
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry(
		&stubProvider{kind: model.SourceFinancial},
		&stubProvider{kind: model.SourceNetwork},
	)

	u, err := r.Fetch(context.Background(), "acme", model.SourceFinancial)
	require.NoError(t, err)
	assert.Equal(t, model.SourceFinancial, u.Kind)

	_, err = r.Fetch(context.Background(), "acme", model.SourceInsights)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider registered")
}

func TestRegistry_KindsInCanonicalOrder(t *testing.T) {
	r := NewRegistry(
		&stubProvider{kind: model.SourceNetwork},
		&stubProvider{kind: model.SourceFinancial},
	)
	assert.Equal(t, []model.SourceKind{model.SourceFinancial, model.SourceNetwork}, r.Kinds())
}
