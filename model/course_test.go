package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCoursePricing(t *testing.T) {
	cases := []struct {
		price string
		free  bool
		valid bool
	}{
		{"0", true, true},
		{"0.00", true, true},
		{"0.01", false, true},
		{"100.00", false, true},
		{"-5.00", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			c := &Course{Price: decimal.RequireFromString(tc.price)}
			assert.Equal(t, tc.free, c.IsFree())
			assert.Equal(t, tc.valid, c.HasValidPrice())
		})
	}
}
