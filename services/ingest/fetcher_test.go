package ingest

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/marketdata"
	"stock-watchlist-backend/services/watchlist"
)

type fakeProvider struct {
	bulkSizes    []int
	bulkErrOn    int // 1-based batch index that fails, 0 for none
	bulkOmit     map[string]bool
	quoteErrOn   map[string]error
	smaErrOn     map[string]error
	smaValues    map[string]float64
	quoteCalls   []string
	closesErrOn  map[string]error
	closesCalls  []string
	closesResult []marketdata.ClosePoint
}

func (p *fakeProvider) FetchQuotesBulk(symbols []string) (map[string]float64, error) {
	p.bulkSizes = append(p.bulkSizes, len(symbols))
	if p.bulkErrOn == len(p.bulkSizes) {
		return nil, errors.New("rate limited")
	}
	quotes := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p.bulkOmit[s] {
			continue
		}
		quotes[s] = 100
	}
	return quotes, nil
}

func (p *fakeProvider) FetchQuote(symbol string) (float64, error) {
	p.quoteCalls = append(p.quoteCalls, symbol)
	if err := p.quoteErrOn[symbol]; err != nil {
		return 0, err
	}
	return 101, nil
}

func (p *fakeProvider) FetchTrendAverage(symbol string) (float64, error) {
	if err := p.smaErrOn[symbol]; err != nil {
		return 0, err
	}
	if sma, ok := p.smaValues[symbol]; ok {
		return sma, nil
	}
	return 90, nil
}

func (p *fakeProvider) FetchDailyCloses(symbol string, years int) ([]marketdata.ClosePoint, error) {
	p.closesCalls = append(p.closesCalls, symbol)
	if err := p.closesErrOn[symbol]; err != nil {
		return nil, err
	}
	if p.closesResult != nil {
		return p.closesResult, nil
	}
	return []marketdata.ClosePoint{{Date: time.Now().UTC(), Close: 100}}, nil
}

func makeInstruments(n int) []watchlist.AggregatedInstrument {
	instruments := make([]watchlist.AggregatedInstrument, n)
	for i := range instruments {
		symbol := fmt.Sprintf("SYM%03d", i)
		instruments[i] = watchlist.AggregatedInstrument{
			Symbol:      symbol,
			UID:         models.InstrumentUID(symbol),
			Subscribers: []watchlist.SubscriberTarget{{UserID: "u1", TargetPrice: 50}},
		}
	}
	return instruments
}

func noSleepFetcher(provider QuoteProvider, pacing Pacing) *PacedFetcher {
	f := NewPacedFetcher(provider, pacing)
	f.sleep = func(time.Duration) {}
	return f
}

func testPacing() Pacing {
	return Pacing{BulkBatchSize: 100, ChunkSize: 5}
}

func TestFetchAllBatchesBulkCalls(t *testing.T) {
	provider := &fakeProvider{}
	fetcher := noSleepFetcher(provider, testPacing())

	results, errs := fetcher.FetchAll(makeInstruments(250))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 250 {
		t.Fatalf("got %d results, want 250", len(results))
	}

	want := []int{100, 100, 50}
	if len(provider.bulkSizes) != len(want) {
		t.Fatalf("bulk batch sizes = %v, want %v", provider.bulkSizes, want)
	}
	for i, size := range want {
		if provider.bulkSizes[i] != size {
			t.Errorf("batch %d size = %d, want %d", i+1, provider.bulkSizes[i], size)
		}
	}
}

func TestFetchAllBulkFailureFallsBackToSingleQuotes(t *testing.T) {
	provider := &fakeProvider{bulkErrOn: 2}
	fetcher := noSleepFetcher(provider, testPacing())

	results, errs := fetcher.FetchAll(makeInstruments(250))

	// The failed batch is recorded but every symbol still resolves via the
	// single-quote fallback.
	if len(results) != 250 {
		t.Fatalf("got %d results, want 250", len(results))
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "batch 2/3") {
		t.Fatalf("errs = %v, want one entry for batch 2/3", errs)
	}
	if len(provider.quoteCalls) != 100 {
		t.Errorf("single-quote fallback calls = %d, want 100", len(provider.quoteCalls))
	}
}

func TestFetchAllSymbolMissingFromBulk(t *testing.T) {
	provider := &fakeProvider{bulkOmit: map[string]bool{"SYM001": true}}
	fetcher := noSleepFetcher(provider, testPacing())

	results, errs := fetcher.FetchAll(makeInstruments(3))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got := results["SYM001"].Price; got != 101 {
		t.Errorf("fallback price = %v, want 101", got)
	}
	if got := results["SYM000"].Price; got != 100 {
		t.Errorf("bulk price = %v, want 100", got)
	}
}

func TestFetchAllIsolatesPerSymbolFailures(t *testing.T) {
	provider := &fakeProvider{
		smaErrOn: map[string]error{"SYM002": errors.New("no SMA data")},
	}
	fetcher := noSleepFetcher(provider, testPacing())

	results, errs := fetcher.FetchAll(makeInstruments(5))
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	if _, ok := results["SYM002"]; ok {
		t.Error("failed symbol must be absent from results")
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "SYM002") {
		t.Errorf("errs = %v, want one entry naming SYM002", errs)
	}
}

func TestFetchAllEmptyInput(t *testing.T) {
	provider := &fakeProvider{}
	fetcher := noSleepFetcher(provider, testPacing())

	results, errs := fetcher.FetchAll(nil)
	if len(results) != 0 || len(errs) != 0 {
		t.Errorf("empty input gave results=%v errs=%v", results, errs)
	}
	if len(provider.bulkSizes) != 0 {
		t.Errorf("no provider calls expected, got %d bulk calls", len(provider.bulkSizes))
	}
}
