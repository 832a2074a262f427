package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"100", 10000},
		{"19.99", 1999},
		{"0.01", 1},
		{"0", 0},
		// Rounds to the nearest cent rather than truncating
		{"10.005", 1001},
		{"10.004", 1000},
		{"0.295", 30},
		{"1234.5678", 123457},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToMinorUnits(decimal.RequireFromString(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMinorUnitsRejectsNegative(t *testing.T) {
	_, err := ToMinorUnits(decimal.RequireFromString("-1.00"))
	assert.Error(t, err)
}

func TestFromMinorUnitsIsExact(t *testing.T) {
	assert.Equal(t, "19.99", FromMinorUnits(1999).StringFixed(2))
	assert.Equal(t, "0.01", FromMinorUnits(1).StringFixed(2))
	assert.True(t, FromMinorUnits(10000).Equal(decimal.NewFromInt(100)))

	for _, minor := range []int64{1, 99, 1999, 123456789} {
		back, err := ToMinorUnits(FromMinorUnits(minor))
		require.NoError(t, err)
		assert.Equal(t, minor, back)
	}
}
