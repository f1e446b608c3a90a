// Package payment implements the ticket lifecycle: pricing, creation, matching of rail
// events, activation and reporting.
package payment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/vidbot/internal/domain"
)

var (
	basePrices = map[domain.Plan]map[domain.Method]decimal.Decimal{
		domain.PlanBasic: {
			domain.MethodCard:          decimal.NewFromInt(250),
			domain.MethodMobileBalance: decimal.NewFromInt(120),
			domain.MethodCrypto:        decimal.RequireFromString("0.5"),
		},
		domain.PlanPremium: {
			domain.MethodCard:          decimal.NewFromInt(600),
			domain.MethodMobileBalance: decimal.NewFromInt(300),
			domain.MethodCrypto:        decimal.NewFromInt(1),
		},
	}

	promoFactor      = decimal.RequireFromString("0.75")
	promoCryptoPrice = decimal.RequireFromString("0.75")
)

// Price returns what plan costs on method. During the promo window CUP prices are cut to
// 75% and truncated to whole pesos; crypto costs a flat 0.75 USDT unless the regular
// price is already lower.
func Price(plan domain.Plan, method domain.Method, promo bool) (decimal.Decimal, error) {
	byMethod, ok := basePrices[plan]
	if !ok {
		return decimal.Zero, fmt.Errorf("plan %q is not purchasable", plan)
	}
	base, ok := byMethod[method]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown payment method %q", method)
	}

	if !promo {
		return base, nil
	}

	if method == domain.MethodCrypto {
		return decimal.Min(base, promoCryptoPrice), nil
	}
	return base.Mul(promoFactor).Truncate(0), nil
}

// PriceList is every price for one account, keyed by plan then method.
type PriceList map[domain.Plan]map[domain.Method]decimal.Decimal

// Prices returns the full price list, with promo pricing applied when promo is set.
func Prices(promo bool) PriceList {
	out := make(PriceList, len(basePrices))
	for plan, byMethod := range basePrices {
		out[plan] = make(map[domain.Method]decimal.Decimal, len(byMethod))
		for method := range byMethod {
			price, _ := Price(plan, method, promo)
			out[plan][method] = price
		}
	}
	return out
}
