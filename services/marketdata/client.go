package marketdata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxBulkSymbols is the provider's hard cap on symbols per bulk quote call
const MaxBulkSymbols = 100

const defaultTimeout = 30 * time.Second

// ErrorKind classifies provider failures into the taxonomy the ingestion
// pipeline recovers on.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindNotFound    ErrorKind = "not_found"
	KindMalformed   ErrorKind = "malformed"
	KindTransport   ErrorKind = "transport"
)

// ProviderError is the normalized error returned by every client operation.
type ProviderError struct {
	Kind   ErrorKind
	Symbol string
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("provider %s for %s: %s", e.Kind, e.Symbol, e.Detail)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Detail)
}

// ClosePoint is one daily close in a historical series
type ClosePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Client wraps the Alpha Vantage-style market data API. It fails fast on
// every operation; retry and pacing policy belong to the caller.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewClient creates a market data client
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// FetchQuote fetches the current price for a single symbol
func (c *Client) FetchQuote(symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)

	raw, err := c.query(symbol, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	})
	if err != nil {
		return 0, err
	}

	var quote map[string]string
	if err := json.Unmarshal(raw["Global Quote"], &quote); err != nil {
		return 0, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: "missing Global Quote block"}
	}

	price, err := strconv.ParseFloat(quote["05. price"], 64)
	if err != nil {
		return 0, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: "no parseable price in quote"}
	}

	return price, nil
}

// bulkQuoteRow is one entry of the REALTIME_BULK_QUOTES response
type bulkQuoteRow struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchQuotesBulk fetches current prices for up to MaxBulkSymbols symbols in
// one call. Symbols the provider does not return are simply absent from the
// result map; that is not an error.
func (c *Client) FetchQuotesBulk(symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	if len(symbols) > MaxBulkSymbols {
		return nil, &ProviderError{
			Kind:   KindMalformed,
			Detail: fmt.Sprintf("cannot fetch more than %d symbols at once, got %d", MaxBulkSymbols, len(symbols)),
		}
	}

	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = normalizeSymbol(s)
	}

	raw, err := c.query("", url.Values{
		"function": {"REALTIME_BULK_QUOTES"},
		"symbol":   {strings.Join(normalized, ",")},
	})
	if err != nil {
		return nil, err
	}

	var rows []bulkQuoteRow
	if err := json.Unmarshal(raw["data"], &rows); err != nil {
		return nil, &ProviderError{Kind: KindMalformed, Detail: "invalid bulk quotes response format"}
	}

	quotes := make(map[string]float64, len(rows))
	for _, row := range rows {
		if row.Symbol == "" {
			continue
		}
		price, err := strconv.ParseFloat(row.Price, 64)
		if err != nil {
			continue
		}
		quotes[normalizeSymbol(row.Symbol)] = price
	}

	return quotes, nil
}

// FetchTrendAverage fetches the 200-day simple moving average for a symbol,
// taking the most recent available period.
func (c *Client) FetchTrendAverage(symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)

	raw, err := c.query(symbol, url.Values{
		"function":    {"SMA"},
		"symbol":      {symbol},
		"interval":    {"daily"},
		"time_period": {"200"},
		"series_type": {"close"},
	})
	if err != nil {
		return 0, err
	}

	var analysis map[string]map[string]string
	if err := json.Unmarshal(raw["Technical Analysis: SMA"], &analysis); err != nil || len(analysis) == 0 {
		return 0, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: "no SMA data in response"}
	}

	// Most recent date wins
	var latest string
	for date := range analysis {
		if date > latest {
			latest = date
		}
	}

	value, err := strconv.ParseFloat(analysis[latest]["SMA"], 64)
	if err != nil {
		return 0, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: "no parseable SMA value"}
	}

	return value, nil
}

// FetchDailyCloses fetches daily closing prices for the trailing window of
// the given number of years, sorted ascending by date.
func (c *Client) FetchDailyCloses(symbol string, years int) ([]ClosePoint, error) {
	symbol = normalizeSymbol(symbol)

	raw, err := c.query(symbol, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {"full"},
	})
	if err != nil {
		return nil, err
	}

	var series map[string]map[string]string
	if err := json.Unmarshal(raw["Time Series (Daily)"], &series); err != nil || len(series) == 0 {
		return nil, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: "no daily time series in response"}
	}

	cutoff := time.Now().UTC().AddDate(-years, 0, 0)

	points := make([]ClosePoint, 0, len(series))
	for dateStr, values := range series {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: fmt.Sprintf("unparseable series date %q", dateStr)}
		}
		if date.Before(cutoff) {
			continue
		}

		closePrice, err := strconv.ParseFloat(values["4. close"], 64)
		if err != nil {
			return nil, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: fmt.Sprintf("unparseable close on %s", dateStr)}
		}

		points = append(points, ClosePoint{Date: date, Close: closePrice})
	}

	if len(points) == 0 {
		return nil, &ProviderError{Kind: KindMalformed, Symbol: symbol, Detail: fmt.Sprintf("no data in the trailing %d years", years)}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	return points, nil
}

// query performs one API call and peels off the provider's in-band error
// envelope before handing the raw JSON blocks back to the caller.
func (c *Client) query(symbol string, params url.Values) (map[string]json.RawMessage, error) {
	params.Set("apikey", c.apiKey)
	requestURL := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	resp, err := c.httpClient.Get(requestURL)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransport, Symbol: symbol, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ProviderError{Kind: KindRateLimited, Symbol: symbol, Detail: "HTTP 429"}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{
			Kind:   KindTransport,
			Symbol: symbol,
			Detail: fmt.Sprintf("API status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransport, Symbol: symbol, Detail: err.Error()}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ProviderError{
			Kind:   KindMalformed,
			Symbol: symbol,
			Detail: fmt.Sprintf("expected JSON response, got: %s", truncate(string(body), 200)),
		}
	}

	// The provider reports rate limiting and unknown symbols in-band with
	// HTTP 200, so both have to be sniffed out of the payload.
	if note, ok := raw["Note"]; ok {
		return nil, &ProviderError{Kind: KindRateLimited, Symbol: symbol, Detail: rawString(note)}
	}
	if msg, ok := raw["Error Message"]; ok {
		return nil, &ProviderError{Kind: KindNotFound, Symbol: symbol, Detail: rawString(msg)}
	}

	return raw, nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
