package plan

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog(t *testing.T) {
	tests := []struct {
		name    string
		plans   []Plan
		wantErr bool
	}{
		{
			name:  "valid",
			plans: []Plan{{ID: "month", DurationDays: 30, Price: decimal.NewFromInt(180)}},
		},
		{
			name:    "empty",
			wantErr: true,
		},
		{
			name: "duplicate id",
			plans: []Plan{
				{ID: "month", DurationDays: 30, Price: decimal.NewFromInt(180)},
				{ID: "month", DurationDays: 60, Price: decimal.NewFromInt(300)},
			},
			wantErr: true,
		},
		{
			name:    "zero duration",
			plans:   []Plan{{ID: "broken", DurationDays: 0, Price: decimal.NewFromInt(1)}},
			wantErr: true,
		},
		{
			name:    "negative duration",
			plans:   []Plan{{ID: "broken", DurationDays: -3, Price: decimal.NewFromInt(1)}},
			wantErr: true,
		},
		{
			name:    "negative price",
			plans:   []Plan{{ID: "broken", DurationDays: 3, Price: decimal.NewFromInt(-1)}},
			wantErr: true,
		},
		{
			name:    "missing id",
			plans:   []Plan{{DurationDays: 3, Price: decimal.NewFromInt(1)}},
			wantErr: true,
		},
		{
			name:    "separator in id",
			plans:   []Plan{{ID: "a:b", DurationDays: 3, Price: decimal.NewFromInt(1)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCatalog(tt.plans)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCatalog))
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.All(), len(tt.plans))
		})
	}
}

func TestCatalogLookup(t *testing.T) {
	c, err := NewCatalog([]Plan{
		{ID: "month", DurationDays: 30, Price: decimal.NewFromInt(180)},
		{ID: "quarter", Title: "Three months", DurationDays: 90, Price: decimal.NewFromInt(450)},
	})
	require.NoError(t, err)

	p, err := c.Lookup("quarter")
	require.NoError(t, err)
	assert.Equal(t, 90, p.DurationDays)
	assert.Equal(t, "Three months", p.Label())

	_, err = c.Lookup("year")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	all := c.All()
	assert.Equal(t, "month", all[0].ID)
	assert.Equal(t, "quarter", all[1].ID)

	all[0].ID = "mutated"
	_, err = c.Lookup("month")
	assert.NoError(t, err, "All must return a copy")
}

func TestParse(t *testing.T) {
	plans, err := Parse(" month:30:180 , quarter:90:450.50:Three months,")
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.Equal(t, "month", plans[0].ID)
	assert.Equal(t, 30, plans[0].DurationDays)
	assert.True(t, plans[0].Price.Equal(decimal.NewFromInt(180)))
	assert.Equal(t, "30 days", plans[0].Label())

	assert.Equal(t, "quarter", plans[1].ID)
	assert.Equal(t, "Three months", plans[1].Title)
	assert.Equal(t, "450.5", plans[1].Price.String())

	for _, bad := range []string{"month:30", "month:x:180", "month:30:abc"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidCatalog, bad)
	}
}
