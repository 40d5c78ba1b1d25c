package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingPolicy_Allows(t *testing.T) {
	policy := PricingPolicy{MaxPercentage: 50, MinAmount: 100}

	assert.NoError(t, policy.Allows(30, 0, false))
	assert.NoError(t, policy.Allows(-50, 0, false))
	assert.Error(t, policy.Allows(51, 0, false))
	assert.Error(t, policy.Allows(-60, 0, false))

	assert.NoError(t, policy.Allows(0, 100, true))
	assert.Error(t, policy.Allows(0, 99, true))
	assert.NoError(t, policy.Allows(0, 99, false), "minimum only binds fixed transforms")
}

func TestPricingPolicy_ZeroMaxPercentageIsUnbounded(t *testing.T) {
	policy := PricingPolicy{}
	assert.NoError(t, policy.Allows(500, 0, false))
}

func TestNewPricingPolicyHolder_Defaults(t *testing.T) {
	holder, err := NewPricingPolicyHolder()
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, DefaultPricingPolicy().MaxPercentage, policy.MaxPercentage)
}
