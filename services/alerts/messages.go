package alerts

import (
	"fmt"
	"math"
	"strings"
)

// fmtPct renders a fractional delta as a signed percentage
func fmtPct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "—"
	}
	pct := v * 100
	sign := ""
	if pct > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, pct)
}

// fmtNum renders a price with two decimals
func fmtNum(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "—"
	}
	return fmt.Sprintf("%.2f", v)
}

// Message builds the human-readable alert text for a rule from the values
// observed at trigger time.
func Message(ruleKey string, ctx Context) string {
	s := ctx.Symbol
	if s == "" {
		s = "This stock"
	}

	switch ruleKey {
	case "dq_le_10pct":
		return fmt.Sprintf("%s is now within 10%% of your target price. (Price %s, target %s, gap %s).",
			s, fmtNum(ctx.CurrentQuote), fmtNum(ctx.TargetPrice), fmtPct(ctx.DeltaToQuote))
	case "dq_le_5pct":
		return fmt.Sprintf("%s is now within 5%% of your target price. (Price %s, target %s, gap %s).",
			s, fmtNum(ctx.CurrentQuote), fmtNum(ctx.TargetPrice), fmtPct(ctx.DeltaToQuote))
	case "dq_le_0pct":
		return fmt.Sprintf("%s has reached your target price. (Price %s, target %s).",
			s, fmtNum(ctx.CurrentQuote), fmtNum(ctx.TargetPrice))
	case "dq_le_neg10pct":
		return fmt.Sprintf("%s is trading at least 10%% below your target price. (Price %s, target %s, gap %s).",
			s, fmtNum(ctx.CurrentQuote), fmtNum(ctx.TargetPrice), fmtPct(ctx.DeltaToQuote))
	case "dsma_le_0pct":
		return fmt.Sprintf("%s just crossed below its 200-day average. (Price %s, 200-day avg %s, gap %s).",
			s, fmtNum(ctx.CurrentQuote), fmtNum(ctx.SMA200), fmtPct(ctx.DeltaToSMA))
	case "dsma_le_neg5pct":
		return fmt.Sprintf("%s is about 5%% under its 200-day average. (Gap %s; price %s, 200-day avg %s).",
			s, fmtPct(ctx.DeltaToSMA), fmtNum(ctx.CurrentQuote), fmtNum(ctx.SMA200))
	case "dsma_le_neg10pct":
		return fmt.Sprintf("%s is roughly 10%% under its 200-day average. (Gap %s; price %s, 200-day avg %s).",
			s, fmtPct(ctx.DeltaToSMA), fmtNum(ctx.CurrentQuote), fmtNum(ctx.SMA200))
	case "drawdown_10pct_2d":
		return fmt.Sprintf("%s fell ~10%% in two trading days. (%s → %s).",
			s, fmtNum(ctx.TwoDaysAgoClose), fmtNum(ctx.LatestClose))
	default:
		return fmt.Sprintf("%s: %s", s, strings.ReplaceAll(ruleKey, "_", " "))
	}
}
