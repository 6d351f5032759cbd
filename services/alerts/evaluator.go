package alerts

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"stock-watchlist-backend/models"

	"github.com/shopspring/decimal"
)

// HistoryObservation is one trading day's metric values for an instrument,
// as read back from persisted history. Either metric may be absent.
type HistoryObservation struct {
	Date         time.Time
	DeltaToQuote *float64
	DeltaToSMA   *float64
}

// ChartObservation is one daily close used by the drawdown rule
type ChartObservation struct {
	Date  time.Time
	Close decimal.Decimal
}

// Context carries the values observed at evaluation time, used to populate
// alert messages and the persisted details blob.
type Context struct {
	Symbol          string  `json:"symbol"`
	TargetPrice     float64 `json:"target_price"`
	CurrentQuote    float64 `json:"current_quote"`
	SMA200          float64 `json:"sma200"`
	DeltaToQuote    float64 `json:"delta_to_quote"`
	DeltaToSMA      float64 `json:"delta_to_sma"`
	LatestClose     float64 `json:"latest_close,omitempty"`
	TwoDaysAgoClose float64 `json:"two_days_ago_close,omitempty"`
}

// Store is the persistence surface the evaluator needs: recent observations
// for rule inputs, and the alert log for cooldown arithmetic.
type Store interface {
	// RecentHistory returns up to n most recent history observations for an
	// instrument, ascending by date.
	RecentHistory(uid string, n int) ([]HistoryObservation, error)
	// RecentCloses returns up to n most recent chart closes, descending by date.
	RecentCloses(uid string, n int) ([]ChartObservation, error)
	// LastAlertEvent returns the most recent alert for the exact
	// (instrument, subscriber, rule) tuple, or nil if none exists.
	LastAlertEvent(uid, userID, ruleKey string) (*models.AlertEvent, error)
	// CountHistoryPointsAfter counts history points dated strictly after the
	// given date. Presence of a history point is what defines a trading day.
	CountHistoryPointsAfter(uid string, date time.Time) (int, error)
	InsertAlertEvent(event *models.AlertEvent) error
}

// Evaluator runs the fixed rule table for one (instrument, subscriber) pair
// and persists surviving alerts.
type Evaluator struct {
	store Store
}

// NewEvaluator creates an alert evaluator
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// historyWindow covers the crossing pair plus one spare row, matching the
// drawdown window size.
const historyWindow = 3

// Evaluate runs every rule for one subscriber of an instrument. Rules are
// evaluated in table order and surviving alerts persisted in that order.
// Returns the inserted events; problems lists failures that were recovered
// (a failed insert does not block the remaining rules).
func (e *Evaluator) Evaluate(uid, symbol, userID string, ctx Context) ([]*models.AlertEvent, []string) {
	var problems []string

	history, err := e.store.RecentHistory(uid, historyWindow)
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to fetch history for %s: %v", symbol, err)}
	}

	closes, err := e.store.RecentCloses(uid, historyWindow)
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to fetch chart data for %s: %v", symbol, err)}
	}

	var triggered []*models.AlertEvent
	for _, rule := range Rules() {
		fires, actual, ruleCtx := e.checkRule(rule, history, closes, ctx)
		if !fires {
			continue
		}

		suppressed, err := e.inCooldown(uid, userID, rule)
		if err != nil {
			problems = append(problems, fmt.Sprintf("cooldown check failed for %s/%s: %v", symbol, rule.Key, err))
			continue
		}
		if suppressed {
			log.Printf("Alert %s for %s (user %s) is in cooldown, skipping", rule.Key, symbol, userID)
			continue
		}

		event := buildEvent(rule, uid, symbol, userID, actual, ruleCtx)
		if err := e.store.InsertAlertEvent(event); err != nil {
			problems = append(problems, fmt.Sprintf("failed to insert alert %s for %s: %v", rule.Key, symbol, err))
			continue
		}

		log.Printf("Alert triggered for user %s: %s", userID, event.Message)
		triggered = append(triggered, event)
	}

	return triggered, problems
}

// checkRule dispatches on the rule shape. The returned context is the input
// context enriched with any window values the rule observed.
func (e *Evaluator) checkRule(rule Rule, history []HistoryObservation, closes []ChartObservation, ctx Context) (bool, *float64, Context) {
	switch kind := rule.Kind.(type) {
	case Crossing:
		fires, actual := evaluateCrossing(kind, history)
		return fires, actual, ctx
	case Drawdown:
		fires, actual, latest, twoAgo := evaluateDrawdown(kind, closes)
		if fires {
			ctx.LatestClose = latest
			ctx.TwoDaysAgoClose = twoAgo
		}
		return fires, actual, ctx
	default:
		// Rule table is code-defined; an unknown shape is a programming error
		log.Printf("Unknown rule kind for %s, skipping", rule.Key)
		return false, nil, ctx
	}
}

// evaluateCrossing detects the strict downward crossing between the two most
// recent observations: previous above the threshold, current at or below it.
// Fewer than two points, or a missing metric value, is no trigger.
func evaluateCrossing(rule Crossing, history []HistoryObservation) (bool, *float64) {
	if len(history) < 2 {
		return false, nil
	}

	previous := history[len(history)-2]
	current := history[len(history)-1]

	prevValue := metricValue(rule.Metric, previous)
	curValue := metricValue(rule.Metric, current)
	if prevValue == nil || curValue == nil {
		return false, nil
	}

	if *prevValue > rule.Threshold && *curValue <= rule.Threshold {
		return true, curValue
	}
	return false, nil
}

func metricValue(metric Metric, obs HistoryObservation) *float64 {
	switch metric {
	case MetricDeltaToQuote:
		return obs.DeltaToQuote
	case MetricDeltaToSMA:
		return obs.DeltaToSMA
	default:
		return nil
	}
}

// evaluateDrawdown fires when the latest close is down at least DropFraction
// from the close at the far end of the window. Returns the actual fractional
// move and the two closes involved.
func evaluateDrawdown(rule Drawdown, closes []ChartObservation) (bool, *float64, float64, float64) {
	if len(closes) < rule.Window {
		return false, nil, 0, 0
	}

	sorted := make([]ChartObservation, len(closes))
	copy(sorted, closes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })

	latest := sorted[0]
	oldest := sorted[rule.Window-1]

	if oldest.Close.LessThanOrEqual(decimal.Zero) {
		return false, nil, 0, 0
	}

	limit := oldest.Close.Mul(decimal.NewFromFloat(1 - rule.DropFraction))
	if latest.Close.GreaterThan(limit) {
		return false, nil, 0, 0
	}

	actual, _ := latest.Close.Sub(oldest.Close).Div(oldest.Close).Float64()
	latestF, _ := latest.Close.Float64()
	oldestF, _ := oldest.Close.Float64()
	return true, &actual, latestF, oldestF
}

// inCooldown reports whether the rule is still suppressed for this
// (instrument, subscriber, rule) tuple: fewer distinct trading days have
// elapsed since the last alert than the rule's cooldown length. Trading days
// are counted from history points, so market closures do not shorten the
// effective cooldown.
func (e *Evaluator) inCooldown(uid, userID string, rule Rule) (bool, error) {
	last, err := e.store.LastAlertEvent(uid, userID, rule.Key)
	if err != nil {
		return true, err
	}
	if last == nil {
		return false, nil
	}

	// Compare on the date part only
	alertDate := last.CreatedAt.UTC().Truncate(24 * time.Hour)
	days, err := e.store.CountHistoryPointsAfter(uid, alertDate)
	if err != nil {
		return true, err
	}

	return days < rule.Cooldown, nil
}

func buildEvent(rule Rule, uid, symbol, userID string, actual *float64, ctx Context) *models.AlertEvent {
	var threshold *float64
	switch kind := rule.Kind.(type) {
	case Crossing:
		t := kind.Threshold
		threshold = &t
	case Drawdown:
		t := -kind.DropFraction
		threshold = &t
	}

	details, err := json.Marshal(map[string]interface{}{
		"context":          ctx,
		"rule_description": rule.Description,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		details = []byte("{}")
	}

	return &models.AlertEvent{
		UID:            uid,
		Symbol:         symbol,
		UserID:         userID,
		RuleKey:        rule.Key,
		Status:         models.AlertStatusTriggered,
		Message:        Message(rule.Key, ctx),
		ActualValue:    actual,
		ThresholdValue: threshold,
		Details:        string(details),
	}
}
