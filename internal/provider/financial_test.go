package provider

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/model"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestFinancialProvider_Fetch(t *testing.T) {
	mock := newMockPool(t)
	lastActivity := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM recipient_summaries`).
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows([]string{
			"recipient_name", "total_award_value", "active_awards",
			"revenue_score", "growth_score", "efficiency_score", "consistency_score",
			"industry_code", "last_activity_date",
		}).AddRow(
			"Acme Construction", 4200000.0, 3,
			90.0, 20.0, 55.0, 60.0,
			"23", &lastActivity,
		))

	p := NewFinancialProvider(mock)
	assert.Equal(t, model.SourceFinancial, p.Kind())

	u, err := p.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.NotNil(t, u.Financial)
	assert.Equal(t, "Acme Construction", u.Financial.RecipientName)
	assert.Equal(t, 4200000.0, u.Financial.TotalAwardValue)
	assert.Equal(t, 90.0, u.Financial.Scores.Revenue)
	assert.Equal(t, "23", u.Financial.IndustryCode)
	require.NotNil(t, u.Financial.LastActivityDate)
	assert.Equal(t, lastActivity, *u.Financial.LastActivityDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinancialProvider_UnknownEntity(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery(`FROM recipient_summaries`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"recipient_name"}))

	u, err := NewFinancialProvider(mock).Fetch(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNetworkProvider_Fetch(t *testing.T) {
	cases := []struct {
		name               string
		prime, sub, shared int
		wantClass          string
		wantScore          float64
	}{
		{"hybrid", 10, 5, 12, "hybrid", 15*2 + 12*3},
		{"prime only", 4, 0, 2, "prime", 4*2 + 2*3},
		{"sub only", 0, 3, 1, "subcontractor", 3*2 + 1*3},
		{"score capped", 40, 40, 40, "hybrid", 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := newMockPool(t)
			mock.ExpectQuery(`SELECT\s+COUNT`).
				WithArgs("acme").
				WillReturnRows(pgxmock.NewRows([]string{"prime", "sub", "shared"}).
					AddRow(tc.prime, tc.sub, tc.shared))

			u, err := NewNetworkProvider(mock).Fetch(context.Background(), "acme")
			require.NoError(t, err)
			require.NotNil(t, u)
			assert.Equal(t, tc.prime+tc.sub, u.Network.RelationshipCount)
			assert.Equal(t, tc.wantClass, u.Network.Classification)
			assert.Equal(t, tc.wantScore, u.Network.NetworkScore)
		})
	}
}

func TestNetworkProvider_NoRelationships(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(`SELECT\s+COUNT`).
		WithArgs("loner").
		WillReturnRows(pgxmock.NewRows([]string{"prime", "sub", "shared"}).AddRow(0, 0, 0))

	u, err := NewNetworkProvider(mock).Fetch(context.Background(), "loner")
	require.NoError(t, err)
	assert.Nil(t, u)
}
