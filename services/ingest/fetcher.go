package ingest

import (
	"fmt"
	"log"
	"time"

	"stock-watchlist-backend/config"
	"stock-watchlist-backend/services/marketdata"
	"stock-watchlist-backend/services/watchlist"
)

// QuoteProvider is the market data surface the pipeline consumes. Satisfied by
// *marketdata.Client.
type QuoteProvider interface {
	FetchQuote(symbol string) (float64, error)
	FetchQuotesBulk(symbols []string) (map[string]float64, error)
	FetchTrendAverage(symbol string) (float64, error)
	FetchDailyCloses(symbol string, years int) ([]marketdata.ClosePoint, error)
}

// Pacing holds the delays that keep the fetch phases inside the provider's
// per-minute call budget.
type Pacing struct {
	BulkBatchSize  int
	BulkBatchDelay time.Duration
	ChunkSize      int
	CallDelay      time.Duration
	ChunkDelay     time.Duration
}

// PacingFromConfig builds pacing from the loaded configuration
func PacingFromConfig(cfg *config.Config) Pacing {
	return Pacing{
		BulkBatchSize:  cfg.BulkBatchSize,
		BulkBatchDelay: time.Duration(cfg.BulkBatchDelayMS) * time.Millisecond,
		ChunkSize:      cfg.ChunkSize,
		CallDelay:      time.Duration(cfg.CallDelayMS) * time.Millisecond,
		ChunkDelay:     time.Duration(cfg.ChunkDelayMS) * time.Millisecond,
	}
}

// InstrumentQuote is the per-instrument result of the fetch phase
type InstrumentQuote struct {
	Price float64
	SMA   float64
}

// PacedFetcher drives the two-phase quote fetch: bulk price batches first,
// then per-symbol trend averages in small chunks. A failure for one symbol or
// one batch never aborts the rest.
type PacedFetcher struct {
	provider QuoteProvider
	pacing   Pacing
	sleep    func(time.Duration)
}

// NewPacedFetcher creates a fetcher with the given pacing
func NewPacedFetcher(provider QuoteProvider, pacing Pacing) *PacedFetcher {
	if pacing.BulkBatchSize <= 0 || pacing.BulkBatchSize > marketdata.MaxBulkSymbols {
		pacing.BulkBatchSize = marketdata.MaxBulkSymbols
	}
	if pacing.ChunkSize <= 0 {
		pacing.ChunkSize = 5
	}
	return &PacedFetcher{provider: provider, pacing: pacing, sleep: time.Sleep}
}

// FetchAll resolves a price and trend average for every instrument it can.
// Instruments missing from the result map have a corresponding entry in the
// returned error list, prefixed with their symbol.
func (f *PacedFetcher) FetchAll(instruments []watchlist.AggregatedInstrument) (map[string]InstrumentQuote, []string) {
	var errs []string

	prices := f.bulkPrices(instruments, &errs)

	results := make(map[string]InstrumentQuote, len(instruments))
	for start := 0; start < len(instruments); start += f.pacing.ChunkSize {
		end := start + f.pacing.ChunkSize
		if end > len(instruments) {
			end = len(instruments)
		}
		chunk := instruments[start:end]

		for i, inst := range chunk {
			quote, err := f.fetchOne(inst.Symbol, prices)
			if err != nil {
				errs = append(errs, fmt.Sprintf("Ticker %s: %v", inst.Symbol, err))
			} else {
				results[inst.Symbol] = quote
			}
			if i < len(chunk)-1 {
				f.sleep(f.pacing.CallDelay)
			}
		}

		if end < len(instruments) {
			f.sleep(f.pacing.ChunkDelay)
		}
	}

	return results, errs
}

// bulkPrices fetches current prices in batches of BulkBatchSize. A failed
// batch is logged and recorded; its symbols fall back to single-quote calls
// during the chunk phase.
func (f *PacedFetcher) bulkPrices(instruments []watchlist.AggregatedInstrument, errs *[]string) map[string]float64 {
	prices := make(map[string]float64, len(instruments))

	batches := (len(instruments) + f.pacing.BulkBatchSize - 1) / f.pacing.BulkBatchSize
	for start := 0; start < len(instruments); start += f.pacing.BulkBatchSize {
		end := start + f.pacing.BulkBatchSize
		if end > len(instruments) {
			end = len(instruments)
		}

		symbols := make([]string, 0, end-start)
		for _, inst := range instruments[start:end] {
			symbols = append(symbols, inst.Symbol)
		}

		batch := start/f.pacing.BulkBatchSize + 1
		quotes, err := f.provider.FetchQuotesBulk(symbols)
		if err != nil {
			log.Printf("Bulk quote batch %d/%d failed: %v", batch, batches, err)
			*errs = append(*errs, fmt.Sprintf("bulk quote batch %d/%d failed: %v", batch, batches, err))
		} else {
			for symbol, price := range quotes {
				prices[symbol] = price
			}
		}

		if end < len(instruments) {
			f.sleep(f.pacing.BulkBatchDelay)
		}
	}

	return prices
}

// fetchOne resolves the price (from the bulk lookup, or a single-quote
// fallback) and the trend average for one symbol.
func (f *PacedFetcher) fetchOne(symbol string, prices map[string]float64) (InstrumentQuote, error) {
	price, ok := prices[symbol]
	if !ok {
		var err error
		price, err = f.provider.FetchQuote(symbol)
		if err != nil {
			return InstrumentQuote{}, fmt.Errorf("quote fetch failed: %w", err)
		}
		f.sleep(f.pacing.CallDelay)
	}

	sma, err := f.provider.FetchTrendAverage(symbol)
	if err != nil {
		return InstrumentQuote{}, fmt.Errorf("trend average fetch failed: %w", err)
	}

	return InstrumentQuote{Price: price, SMA: sma}, nil
}
