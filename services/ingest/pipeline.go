package ingest

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/alerts"
	"stock-watchlist-backend/services/watchlist"

	"github.com/shopspring/decimal"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing.
var ErrRunInProgress = errors.New("an ingestion run is already in progress")

// maxErrorLen bounds the error text stored on the run record
const maxErrorLen = 1000

// maxRunErrors bounds the per-run error list
const maxRunErrors = 50

// Store is the persistence surface of the ingestion pipeline. It extends the
// alert store with subscription loading, run bookkeeping and metric upserts.
type Store interface {
	alerts.Store

	ListSubscriptions() ([]watchlist.Subscription, error)
	CreateRun(trigger string) (*models.IngestionRun, error)
	FinalizeRun(runID uint, status string, summary Summary, errMsg string) error

	UpsertMetricSnapshot(snap *models.MetricSnapshot) error
	UpsertHistoryPoint(point *models.HistoryPoint) error
	UpsertChartPoints(points []models.ChartPoint, batchSize int) error
	UpdateSubscriberDelta(userID, symbol string, delta float64) error
}

// Notifier receives alerts as they are persisted, for realtime fan-out
type Notifier interface {
	AlertTriggered(event *models.AlertEvent)
}

// Summary aggregates the counters of one ingestion run
type Summary struct {
	Processed       int      `json:"processed"`
	Updated         int      `json:"updated"`
	HistoryUpserts  int      `json:"history_upserts"`
	ChartUpserts    int      `json:"chart_upserts"`
	AlertsTriggered int      `json:"alerts_triggered"`
	Errors          []string `json:"errors"`
}

func (s *Summary) appendError(msg string) {
	if len(s.Errors) < maxRunErrors {
		s.Errors = append(s.Errors, msg)
	} else if len(s.Errors) == maxRunErrors {
		s.Errors = append(s.Errors, "further errors omitted")
	}
}

// RunResult is what a completed run reports back to its caller
type RunResult struct {
	RunID   uint    `json:"run_id"`
	Status  string  `json:"status"`
	Summary Summary `json:"summary"`
}

// Pipeline orchestrates one ingestion pass over the aggregated watchlist:
// paced fetching, metric computation, persistence and alert evaluation. At
// most one run executes at a time.
type Pipeline struct {
	store          Store
	provider       QuoteProvider
	fetcher        *PacedFetcher
	evaluator      *alerts.Evaluator
	pacing         Pacing
	chartBatchSize int
	chartYears     int
	notifier       Notifier
	sleep          func(time.Duration)

	mu      sync.Mutex
	running bool
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(store Store, provider QuoteProvider, pacing Pacing, chartBatchSize, chartYears int) *Pipeline {
	if chartBatchSize <= 0 {
		chartBatchSize = 1000
	}
	if chartYears <= 0 {
		chartYears = 5
	}
	return &Pipeline{
		store:          store,
		provider:       provider,
		fetcher:        NewPacedFetcher(provider, pacing),
		evaluator:      alerts.NewEvaluator(store),
		pacing:         pacing,
		chartBatchSize: chartBatchSize,
		chartYears:     chartYears,
		sleep:          time.Sleep,
	}
}

// SetNotifier attaches a realtime alert sink. Optional.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Run executes one full ingestion pass. Per-instrument failures are recorded
// in the summary and never abort the run; only a failure to load the
// subscription list finalizes the run as an error. The run record is always
// finalized exactly once.
func (p *Pipeline) Run(trigger string) (*RunResult, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrRunInProgress
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	run, err := p.store.CreateRun(trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}
	log.Printf("Ingestion run %d started (trigger=%s)", run.ID, trigger)

	summary := &Summary{Errors: []string{}}

	subs, err := p.store.ListSubscriptions()
	if err != nil {
		return p.finalize(run, models.RunStatusError, summary, fmt.Sprintf("failed to load subscriptions: %v", err))
	}

	instruments := watchlist.Aggregate(subs)
	if len(instruments) == 0 {
		log.Printf("Ingestion run %d: watchlist is empty, nothing to do", run.ID)
		return p.finalize(run, models.RunStatusSuccess, summary, "")
	}
	log.Printf("Ingestion run %d: %d instruments from %d subscriptions", run.ID, len(instruments), len(subs))

	quotes, fetchErrs := p.fetcher.FetchAll(instruments)
	for _, msg := range fetchErrs {
		summary.appendError(msg)
	}

	today := dateOnly(time.Now().UTC())
	for _, inst := range instruments {
		quote, ok := quotes[inst.Symbol]
		if !ok {
			// fetch already recorded the failure
			continue
		}
		if err := p.processInstrument(inst, quote, today, summary); err != nil {
			log.Printf("Ticker %s: %v", inst.Symbol, err)
			summary.appendError(fmt.Sprintf("Ticker %s: %v", inst.Symbol, err))
			continue
		}
		summary.Processed++
	}

	return p.finalize(run, models.RunStatusSuccess, summary, "")
}

// processInstrument handles one instrument end to end: metrics, snapshot,
// history, per-subscriber deltas and alerts, then the chart refresh. Alert
// evaluation runs only after the snapshot and history point are persisted.
func (p *Pipeline) processInstrument(inst watchlist.AggregatedInstrument, quote InstrumentQuote, today time.Time, summary *Summary) error {
	deltaTrend, err := DeltaToTrend(quote.Price, quote.SMA)
	if err != nil {
		return fmt.Errorf("metric computation failed: %w", err)
	}

	price := decimal.NewFromFloat(quote.Price)
	sma := decimal.NewFromFloat(quote.SMA)

	snap := &models.MetricSnapshot{
		UID:          inst.UID,
		Symbol:       inst.Symbol,
		CurrentQuote: price,
		SMA200:       sma,
		DeltaToSMA:   deltaTrend,
		FetchedAt:    time.Now().UTC(),
	}
	if err := p.store.UpsertMetricSnapshot(snap); err != nil {
		return fmt.Errorf("snapshot upsert failed: %w", err)
	}

	point := &models.HistoryPoint{
		UID:          inst.UID,
		Date:         today,
		Symbol:       inst.Symbol,
		CurrentQuote: price,
		SMA200:       sma,
		DeltaToSMA:   &deltaTrend,
	}
	if err := p.store.UpsertHistoryPoint(point); err != nil {
		return fmt.Errorf("history upsert failed: %w", err)
	}
	summary.HistoryUpserts++

	for _, sub := range inst.Subscribers {
		deltaQuote, err := DeltaToQuote(quote.Price, sub.TargetPrice)
		if err != nil {
			summary.appendError(fmt.Sprintf("Ticker %s (user %s): %v", inst.Symbol, sub.UserID, err))
			continue
		}

		if err := p.store.UpdateSubscriberDelta(sub.UserID, inst.Symbol, deltaQuote); err != nil {
			summary.appendError(fmt.Sprintf("Ticker %s (user %s): delta update failed: %v", inst.Symbol, sub.UserID, err))
		} else {
			summary.Updated++
		}

		ctx := alerts.Context{
			Symbol:       inst.Symbol,
			TargetPrice:  sub.TargetPrice,
			CurrentQuote: quote.Price,
			SMA200:       quote.SMA,
			DeltaToQuote: deltaQuote,
			DeltaToSMA:   deltaTrend,
		}
		events, problems := p.evaluator.Evaluate(inst.UID, inst.Symbol, sub.UserID, ctx)
		for _, problem := range problems {
			summary.appendError(problem)
		}
		summary.AlertsTriggered += len(events)
		if p.notifier != nil {
			for _, event := range events {
				p.notifier.AlertTriggered(event)
			}
		}
	}

	p.sleep(p.pacing.CallDelay)
	closes, err := p.provider.FetchDailyCloses(inst.Symbol, p.chartYears)
	if err != nil {
		return fmt.Errorf("chart fetch failed: %w", err)
	}

	points := make([]models.ChartPoint, len(closes))
	for i, cp := range closes {
		points[i] = models.ChartPoint{
			UID:    inst.UID,
			Symbol: inst.Symbol,
			Date:   dateOnly(cp.Date),
			Close:  decimal.NewFromFloat(cp.Close),
		}
	}
	if err := p.store.UpsertChartPoints(points, p.chartBatchSize); err != nil {
		return fmt.Errorf("chart upsert failed: %w", err)
	}
	summary.ChartUpserts += len(points)

	return nil
}

// finalize writes the terminal state of the run record and builds the result.
// A success with recovered per-instrument errors keeps those errors on the
// record, bounded to maxErrorLen characters.
func (p *Pipeline) finalize(run *models.IngestionRun, status string, summary *Summary, errMsg string) (*RunResult, error) {
	if errMsg == "" && len(summary.Errors) > 0 {
		errMsg = strings.Join(summary.Errors, "; ")
	}
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}

	if err := p.store.FinalizeRun(run.ID, status, *summary, errMsg); err != nil {
		log.Printf("Failed to finalize run %d: %v", run.ID, err)
		return nil, fmt.Errorf("failed to finalize run %d: %w", run.ID, err)
	}

	log.Printf("Ingestion run %d finished: status=%s processed=%d updated=%d history=%d chart=%d alerts=%d errors=%d",
		run.ID, status, summary.Processed, summary.Updated, summary.HistoryUpserts,
		summary.ChartUpserts, summary.AlertsTriggered, len(summary.Errors))

	return &RunResult{RunID: run.ID, Status: status, Summary: *summary}, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
