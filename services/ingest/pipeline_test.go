package ingest

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/alerts"
	"stock-watchlist-backend/services/watchlist"
)

type finalizedRun struct {
	status  string
	summary Summary
	errMsg  string
}

// memStore is an in-memory Store with real upsert and cooldown semantics
type memStore struct {
	subs         []watchlist.Subscription
	subsErr      error
	createRunErr error

	nextRunID uint
	finalized map[uint]finalizedRun

	snapshots map[string]*models.MetricSnapshot
	history   map[string]map[string]*models.HistoryPoint // uid -> date -> point
	charts    map[string][]models.ChartPoint
	deltas    map[string]float64 // user|symbol
	events    []*models.AlertEvent
}

func newMemStore(subs []watchlist.Subscription) *memStore {
	return &memStore{
		subs:      subs,
		finalized: map[uint]finalizedRun{},
		snapshots: map[string]*models.MetricSnapshot{},
		history:   map[string]map[string]*models.HistoryPoint{},
		charts:    map[string][]models.ChartPoint{},
		deltas:    map[string]float64{},
	}
}

func (m *memStore) ListSubscriptions() ([]watchlist.Subscription, error) {
	return m.subs, m.subsErr
}

func (m *memStore) CreateRun(trigger string) (*models.IngestionRun, error) {
	if m.createRunErr != nil {
		return nil, m.createRunErr
	}
	m.nextRunID++
	return &models.IngestionRun{ID: m.nextRunID, Trigger: trigger, Status: models.RunStatusRunning, StartedAt: time.Now().UTC()}, nil
}

func (m *memStore) FinalizeRun(runID uint, status string, summary Summary, errMsg string) error {
	m.finalized[runID] = finalizedRun{status: status, summary: summary, errMsg: errMsg}
	return nil
}

func (m *memStore) UpsertMetricSnapshot(snap *models.MetricSnapshot) error {
	m.snapshots[snap.UID] = snap
	return nil
}

func (m *memStore) UpsertHistoryPoint(point *models.HistoryPoint) error {
	if m.history[point.UID] == nil {
		m.history[point.UID] = map[string]*models.HistoryPoint{}
	}
	m.history[point.UID][point.Date.Format("2006-01-02")] = point
	return nil
}

func (m *memStore) UpsertChartPoints(points []models.ChartPoint, batchSize int) error {
	for _, point := range points {
		m.charts[point.UID] = append(m.charts[point.UID], point)
	}
	return nil
}

func (m *memStore) UpdateSubscriberDelta(userID, symbol string, delta float64) error {
	m.deltas[userID+"|"+symbol] = delta
	return nil
}

func (m *memStore) RecentHistory(uid string, n int) ([]alerts.HistoryObservation, error) {
	points := make([]*models.HistoryPoint, 0, len(m.history[uid]))
	for _, point := range m.history[uid] {
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	if len(points) > n {
		points = points[len(points)-n:]
	}

	observations := make([]alerts.HistoryObservation, len(points))
	for i, point := range points {
		observations[i] = alerts.HistoryObservation{Date: point.Date, DeltaToSMA: point.DeltaToSMA}
	}
	return observations, nil
}

func (m *memStore) RecentCloses(uid string, n int) ([]alerts.ChartObservation, error) {
	points := append([]models.ChartPoint(nil), m.charts[uid]...)
	sort.Slice(points, func(i, j int) bool { return points[i].Date.After(points[j].Date) })
	if len(points) > n {
		points = points[:n]
	}

	closes := make([]alerts.ChartObservation, len(points))
	for i, point := range points {
		closes[i] = alerts.ChartObservation{Date: point.Date, Close: point.Close}
	}
	return closes, nil
}

func (m *memStore) LastAlertEvent(uid, userID, ruleKey string) (*models.AlertEvent, error) {
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.UID == uid && e.UserID == userID && e.RuleKey == ruleKey {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memStore) CountHistoryPointsAfter(uid string, date time.Time) (int, error) {
	count := 0
	for _, point := range m.history[uid] {
		if point.Date.After(date) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) InsertAlertEvent(event *models.AlertEvent) error {
	event.CreatedAt = time.Now().UTC()
	m.events = append(m.events, event)
	return nil
}

type fakeNotifier struct {
	events []*models.AlertEvent
}

func (n *fakeNotifier) AlertTriggered(event *models.AlertEvent) {
	n.events = append(n.events, event)
}

func noSleepPipeline(store Store, provider QuoteProvider) *Pipeline {
	p := NewPipeline(store, provider, testPacing(), 1000, 5)
	p.sleep = func(time.Duration) {}
	p.fetcher.sleep = func(time.Duration) {}
	return p
}

func seedYesterdayHistory(store *memStore, uid string, deltaTrend float64) {
	yesterday := dateOnly(time.Now().UTC()).AddDate(0, 0, -1)
	store.UpsertHistoryPoint(&models.HistoryPoint{UID: uid, Date: yesterday, DeltaToSMA: &deltaTrend})
}

func TestRunEmptyWatchlist(t *testing.T) {
	store := newMemStore(nil)
	provider := &fakeProvider{}
	pipeline := noSleepPipeline(store, provider)

	result, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.RunStatusSuccess {
		t.Errorf("status = %s, want success", result.Status)
	}
	if result.Summary.Processed != 0 || result.Summary.AlertsTriggered != 0 {
		t.Errorf("summary = %+v, want all-zero", result.Summary)
	}
	if len(provider.bulkSizes) != 0 {
		t.Error("no provider calls expected for an empty watchlist")
	}
	if len(store.finalized) != 1 {
		t.Fatalf("run finalized %d times, want 1", len(store.finalized))
	}
}

func TestRunHappyPath(t *testing.T) {
	store := newMemStore([]watchlist.Subscription{
		{UserID: "u1", Symbol: "AAA", TargetPrice: 120},
		{UserID: "u2", Symbol: "AAA", TargetPrice: 90},
		{UserID: "u1", Symbol: "BBB", TargetPrice: 50},
	})
	// AAA was above its 200-day average yesterday; today's fetch puts it
	// just below, so the crossing fires for both subscribers.
	seedYesterdayHistory(store, models.InstrumentUID("AAA"), 0.04)

	provider := &fakeProvider{smaValues: map[string]float64{"AAA": 101}}
	pipeline := noSleepPipeline(store, provider)
	notifier := &fakeNotifier{}
	pipeline.SetNotifier(notifier)

	result, err := pipeline.Run(models.RunTriggerScheduled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != models.RunStatusSuccess {
		t.Fatalf("status = %s, want success (errors: %v)", result.Status, result.Summary.Errors)
	}
	if result.Summary.Processed != 2 {
		t.Errorf("processed = %d, want 2", result.Summary.Processed)
	}
	if result.Summary.Updated != 3 {
		t.Errorf("updated = %d, want 3", result.Summary.Updated)
	}
	if result.Summary.HistoryUpserts != 2 {
		t.Errorf("history upserts = %d, want 2", result.Summary.HistoryUpserts)
	}
	if result.Summary.ChartUpserts != 2 {
		t.Errorf("chart upserts = %d, want 2", result.Summary.ChartUpserts)
	}
	if result.Summary.AlertsTriggered != 2 {
		t.Errorf("alerts = %d, want 2 (one per AAA subscriber)", result.Summary.AlertsTriggered)
	}
	if len(notifier.events) != 2 {
		t.Errorf("notifier saw %d events, want 2", len(notifier.events))
	}

	// Both snapshot and per-subscriber deltas landed
	snap := store.snapshots[models.InstrumentUID("AAA")]
	if snap == nil || snap.Symbol != "AAA" {
		t.Fatalf("missing AAA snapshot")
	}
	if got := store.deltas["u2|AAA"]; got < 0.111 || got > 0.112 {
		t.Errorf("u2 AAA delta = %v, want ~0.1111", got)
	}

	for _, event := range store.events {
		if event.RuleKey != "dsma_le_0pct" {
			t.Errorf("unexpected rule fired: %s", event.RuleKey)
		}
	}
}

func TestRunIsolatesInstrumentFailures(t *testing.T) {
	subs := make([]watchlist.Subscription, 5)
	for i, symbol := range []string{"SYM000", "SYM001", "SYM002", "SYM003", "SYM004"} {
		subs[i] = watchlist.Subscription{UserID: "u1", Symbol: symbol, TargetPrice: 50}
	}
	store := newMemStore(subs)
	provider := &fakeProvider{smaErrOn: map[string]error{"SYM002": errors.New("no SMA data")}}
	pipeline := noSleepPipeline(store, provider)

	result, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != models.RunStatusSuccess {
		t.Errorf("status = %s, want success despite one failed instrument", result.Status)
	}
	if result.Summary.Processed != 4 {
		t.Errorf("processed = %d, want 4", result.Summary.Processed)
	}
	if len(result.Summary.Errors) != 1 || !strings.Contains(result.Summary.Errors[0], "SYM002") {
		t.Errorf("errors = %v, want one entry naming SYM002", result.Summary.Errors)
	}
	if _, ok := store.snapshots[models.InstrumentUID("SYM002")]; ok {
		t.Error("failed instrument must have no snapshot")
	}
}

func TestRunChartFetchFailure(t *testing.T) {
	store := newMemStore([]watchlist.Subscription{
		{UserID: "u1", Symbol: "AAA", TargetPrice: 50},
	})
	provider := &fakeProvider{closesErrOn: map[string]error{"AAA": errors.New("rate limited")}}
	pipeline := noSleepPipeline(store, provider)

	result, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Snapshot and history land before the chart step fails, but the
	// instrument does not count as fully processed.
	if result.Summary.Processed != 0 {
		t.Errorf("processed = %d, want 0", result.Summary.Processed)
	}
	if result.Summary.HistoryUpserts != 1 {
		t.Errorf("history upserts = %d, want 1", result.Summary.HistoryUpserts)
	}
	if len(result.Summary.Errors) != 1 || !strings.Contains(result.Summary.Errors[0], "AAA") {
		t.Errorf("errors = %v, want one entry naming AAA", result.Summary.Errors)
	}
}

func TestRunSubscriptionLoadFailure(t *testing.T) {
	store := newMemStore(nil)
	store.subsErr = errors.New("connection refused")
	pipeline := noSleepPipeline(store, &fakeProvider{})

	result, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.RunStatusError {
		t.Errorf("status = %s, want error", result.Status)
	}

	final := store.finalized[result.RunID]
	if final.status != models.RunStatusError || !strings.Contains(final.errMsg, "subscriptions") {
		t.Errorf("finalized = %+v, want error status naming subscriptions", final)
	}
}

func TestRunCreateRunFailure(t *testing.T) {
	store := newMemStore(nil)
	store.createRunErr = errors.New("insert failed")
	pipeline := noSleepPipeline(store, &fakeProvider{})

	if _, err := pipeline.Run(models.RunTriggerManual); err == nil {
		t.Fatal("expected error when the run record cannot be created")
	}
	if len(store.finalized) != 0 {
		t.Error("nothing must be finalized without a run record")
	}
}

func TestRunCooldownSuppressesRepeatAlerts(t *testing.T) {
	store := newMemStore([]watchlist.Subscription{
		{UserID: "u1", Symbol: "AAA", TargetPrice: 120},
	})
	seedYesterdayHistory(store, models.InstrumentUID("AAA"), 0.04)

	provider := &fakeProvider{smaValues: map[string]float64{"AAA": 101}}
	pipeline := noSleepPipeline(store, provider)

	first, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Summary.AlertsTriggered != 1 {
		t.Fatalf("first run alerts = %d, want 1", first.Summary.AlertsTriggered)
	}

	// Same market data on the same day: the crossing condition still holds
	// but the alert is inside its cooldown window.
	second, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Summary.AlertsTriggered != 0 {
		t.Errorf("second run alerts = %d, want 0 (cooldown)", second.Summary.AlertsTriggered)
	}
	if len(store.events) != 1 {
		t.Errorf("stored events = %d, want 1", len(store.events))
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	pipeline := noSleepPipeline(newMemStore(nil), &fakeProvider{})
	pipeline.running = true

	if _, err := pipeline.Run(models.RunTriggerManual); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}
}

func TestRunErrorTextIsBounded(t *testing.T) {
	var subs []watchlist.Subscription
	for _, inst := range makeInstruments(30) {
		subs = append(subs, watchlist.Subscription{UserID: "u1", Symbol: inst.Symbol, TargetPrice: 50})
	}
	store := newMemStore(subs)

	smaErrs := map[string]error{}
	for _, sub := range subs {
		smaErrs[sub.Symbol] = errors.New(strings.Repeat("x", 100))
	}
	pipeline := noSleepPipeline(store, &fakeProvider{smaErrOn: smaErrs})

	result, err := pipeline.Run(models.RunTriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := store.finalized[result.RunID]
	if len(final.errMsg) == 0 || len(final.errMsg) > maxErrorLen {
		t.Errorf("stored error length = %d, want 1..%d", len(final.errMsg), maxErrorLen)
	}
}
