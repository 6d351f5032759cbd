package ingest

import "fmt"

// DeltaToTrend computes the relative distance of the current price from the
// 200-day average: (price - sma) / sma. Positive means above trend.
func DeltaToTrend(price, sma float64) (float64, error) {
	if sma <= 0 {
		return 0, fmt.Errorf("trend average must be positive, got %v", sma)
	}
	return (price - sma) / sma, nil
}

// DeltaToQuote computes the relative distance of the current price from a
// subscriber's target: (price - target) / target. Positive means the price is
// still above the target.
func DeltaToQuote(price, target float64) (float64, error) {
	if target <= 0 {
		return 0, fmt.Errorf("target price must be positive, got %v", target)
	}
	return (price - target) / target, nil
}
