package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/vidbot/internal/domain"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		plan   domain.Plan
		method domain.Method
		promo  bool
		want   string
	}{
		{domain.PlanBasic, domain.MethodCard, false, "250"},
		{domain.PlanBasic, domain.MethodMobileBalance, false, "120"},
		{domain.PlanBasic, domain.MethodCrypto, false, "0.5"},
		{domain.PlanPremium, domain.MethodCard, false, "600"},
		{domain.PlanPremium, domain.MethodMobileBalance, false, "300"},
		{domain.PlanPremium, domain.MethodCrypto, false, "1"},
		{domain.PlanBasic, domain.MethodCard, true, "187"},
		{domain.PlanBasic, domain.MethodMobileBalance, true, "90"},
		{domain.PlanBasic, domain.MethodCrypto, true, "0.5"},
		{domain.PlanPremium, domain.MethodCard, true, "450"},
		{domain.PlanPremium, domain.MethodMobileBalance, true, "225"},
		{domain.PlanPremium, domain.MethodCrypto, true, "0.75"},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan)+"/"+string(tt.method), func(t *testing.T) {
			got, err := Price(tt.plan, tt.method, tt.promo)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestPriceRejectsUnknown(t *testing.T) {
	_, err := Price(domain.PlanFree, domain.MethodCard, false)
	assert.Error(t, err)

	_, err = Price(domain.PlanBasic, domain.Method("paypal"), false)
	assert.Error(t, err)
}

func TestPrices(t *testing.T) {
	list := Prices(true)
	require.Len(t, list, 2)
	assert.True(t, list[domain.PlanPremium][domain.MethodCard].Equal(decimal.NewFromInt(450)))
}
