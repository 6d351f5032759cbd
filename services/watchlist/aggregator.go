package watchlist

import (
	"stock-watchlist-backend/models"
)

// Subscription is one user's interest in a symbol as loaded from the store
type Subscription struct {
	UserID      string  `json:"user_id"`
	Symbol      string  `json:"symbol"`
	TargetPrice float64 `json:"target_price"`
	Priority    string  `json:"priority"`
}

// SubscriberTarget pairs a subscriber with their personal target price
type SubscriberTarget struct {
	UserID      string  `json:"user_id"`
	TargetPrice float64 `json:"target_price"`
}

// AggregatedInstrument collapses all subscriptions for one unique symbol into
// a single unit of ingestion work.
type AggregatedInstrument struct {
	Symbol      string             `json:"symbol"`
	UID         string             `json:"uid"`
	Subscribers []SubscriberTarget `json:"subscribers"`
}

// Aggregate groups a flat subscription list by case-normalized symbol,
// preserving the insertion order of each symbol's first occurrence. Rows with
// an empty symbol are dropped; that is the only malformed-input case and it
// is not fatal.
func Aggregate(subs []Subscription) []AggregatedInstrument {
	index := make(map[string]int, len(subs))
	aggregated := make([]AggregatedInstrument, 0, len(subs))

	for _, sub := range subs {
		symbol := models.NormalizeSymbol(sub.Symbol)
		if symbol == "" {
			continue
		}

		i, ok := index[symbol]
		if !ok {
			i = len(aggregated)
			index[symbol] = i
			aggregated = append(aggregated, AggregatedInstrument{
				Symbol: symbol,
				UID:    models.InstrumentUID(symbol),
			})
		}

		aggregated[i].Subscribers = append(aggregated[i].Subscribers, SubscriberTarget{
			UserID:      sub.UserID,
			TargetPrice: sub.TargetPrice,
		})
	}

	return aggregated
}
