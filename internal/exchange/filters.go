package exchange

import (
	"context"
	"math"
)

// stepEpsilon absorbs binary float noise when snapping quantities to a
// symbol's step grid.
const stepEpsilon = 1e-9

// floorToStep snaps qty down onto the step grid.
func floorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Floor(qty/step + stepEpsilon)
	return normalizeQty(steps * step)
}

// ceilToStep snaps qty up onto the step grid.
func ceilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Ceil(qty/step - stepEpsilon)
	return normalizeQty(steps * step)
}

// normalizeQty trims float dust beyond eight decimals, the venue's maximum
// quantity precision.
func normalizeQty(qty float64) float64 {
	return math.Round(qty*1e8) / 1e8
}

// AdjustToLot floors qty onto the symbol's step grid and clamps the result
// into [MinQty, MaxQty]. Callers must still verify the clamped quantity is
// affordable; clamping up to MinQty can exceed the intended spend.
func AdjustToLot(f SymbolFilters, qty float64) float64 {
	adjusted := floorToStep(qty, f.StepSize)
	if f.MinQty > 0 && adjusted < f.MinQty {
		adjusted = f.MinQty
	}
	if f.MaxQty > 0 && adjusted > f.MaxQty {
		adjusted = floorToStep(f.MaxQty, f.StepSize)
	}
	return adjusted
}

// AdjustToNotional raises qty until qty*price meets the symbol's minimum
// notional, keeping the result on the step grid. The bool is false when no
// quantity within MaxQty can satisfy the filter.
func AdjustToNotional(f SymbolFilters, qty, price float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	if f.MinNotional <= 0 || qty*price >= f.MinNotional-stepEpsilon {
		return qty, true
	}
	required := ceilToStep(f.MinNotional/price, f.StepSize)
	if f.MinQty > 0 && required < f.MinQty {
		required = f.MinQty
	}
	if f.MaxQty > 0 && required > f.MaxQty {
		return 0, false
	}
	return required, true
}

// SellableQuantity floors qty onto the symbol's step grid and reports
// whether the result passes the lot and notional filters at price. Unlike
// AdjustToLot it never raises the quantity, so balance dust stays dust
// instead of becoming an order the account cannot cover.
func SellableQuantity(f SymbolFilters, qty, price float64) (float64, bool) {
	adjusted := floorToStep(qty, f.StepSize)
	if adjusted <= 0 {
		return 0, false
	}
	if f.MinQty > 0 && adjusted < f.MinQty {
		return 0, false
	}
	if f.MaxQty > 0 && adjusted > f.MaxQty {
		adjusted = floorToStep(f.MaxQty, f.StepSize)
	}
	if f.MinNotional > 0 && adjusted*price < f.MinNotional-stepEpsilon {
		return adjusted, false
	}
	return adjusted, true
}

// OptimalBuyQuantity computes the largest market-buy quantity that passes
// the symbol's lot and notional filters without spending more than
// budgetQuote or the account's free quote balance. The bool is false when
// no feasible quantity exists.
func OptimalBuyQuantity(ctx context.Context, c Client, symbol string, budgetQuote, price float64, mode TradingMode) (float64, bool, error) {
	if price <= 0 || budgetQuote <= 0 {
		return 0, false, nil
	}

	f, err := c.SymbolFilters(ctx, symbol)
	if err != nil {
		return 0, false, err
	}
	free, err := c.Balance(ctx, f.QuoteAsset, mode)
	if err != nil {
		return 0, false, err
	}

	spendable := math.Min(budgetQuote, free)
	if spendable <= 0 {
		return 0, false, nil
	}

	qty := AdjustToLot(f, spendable/price)
	if qty <= 0 {
		return 0, false, nil
	}
	qty, ok := AdjustToNotional(f, qty, price)
	if !ok {
		return 0, false, nil
	}
	// The lot clamp and notional raise can both push the order value past
	// what is affordable.
	if qty*price > spendable+stepEpsilon {
		return 0, false, nil
	}
	return qty, true, nil
}
