package gateway_test

import (
	"testing"

	"enrollment-service/gateway"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMinor_ExactConversion(t *testing.T) {
	assert.True(t, gateway.FromMinor(150000, "INR").Equal(decimal.RequireFromString("1500.00")))
	assert.False(t, gateway.FromMinor(149999, "INR").Equal(decimal.NewFromInt(1500)))
	assert.True(t, gateway.FromMinor(1500, "JPY").Equal(decimal.NewFromInt(1500)))
}

func TestToMinor(t *testing.T) {
	minor, err := gateway.ToMinor(decimal.RequireFromString("499.99"), "INR")
	require.NoError(t, err)
	assert.EqualValues(t, 49999, minor)

	minor, err = gateway.ToMinor(decimal.NewFromInt(1200), "jpy")
	require.NoError(t, err)
	assert.EqualValues(t, 1200, minor)

	_, err = gateway.ToMinor(decimal.RequireFromString("10.005"), "INR")
	assert.Error(t, err)

	_, err = gateway.ToMinor(decimal.RequireFromString("10.5"), "JPY")
	assert.Error(t, err)
}

func TestSupports(t *testing.T) {
	assert.True(t, gateway.Supports(gateway.ProviderRazorpay, "inr"))
	assert.False(t, gateway.Supports(gateway.ProviderRazorpay, "USD"))
	assert.True(t, gateway.Supports(gateway.ProviderStripe, "USD"))
}
