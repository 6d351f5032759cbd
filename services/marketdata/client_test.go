package marketdata

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	return NewClient("test-key", server.URL), server
}

func providerKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	return perr.Kind
}

func TestFetchQuote(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "GLOBAL_QUOTE" {
			t.Errorf("unexpected function %q", got)
		}
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("unexpected symbol %q", got)
		}
		fmt.Fprint(w, `{"Global Quote": {"01. symbol": "AAPL", "05. price": "231.5500"}}`)
	})
	defer server.Close()

	price, err := client.FetchQuote(" aapl ")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if price != 231.55 {
		t.Errorf("price = %v, want 231.55", price)
	}
}

func TestFetchQuoteErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limit note", 200, `{"Note": "Thank you for using our API, call frequency exceeded"}`, KindRateLimited},
		{"http 429", 429, `slow down`, KindRateLimited},
		{"unknown symbol", 200, `{"Error Message": "Invalid API call"}`, KindNotFound},
		{"missing quote block", 200, `{"unexpected": {}}`, KindMalformed},
		{"plain text body", 200, `<html>maintenance</html>`, KindMalformed},
		{"server error", 500, `oops`, KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			defer server.Close()

			_, err := client.FetchQuote("AAPL")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if kind := providerKind(t, err); kind != tt.want {
				t.Errorf("kind = %s, want %s", kind, tt.want)
			}
		})
	}
}

func TestFetchQuotesBulk(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "AAPL,MSFT,NVDA" {
			t.Errorf("unexpected symbol list %q", got)
		}
		// NVDA is missing and one row is junk; neither is an error
		fmt.Fprint(w, `{"data": [
			{"symbol": "AAPL", "price": "231.55"},
			{"symbol": "MSFT", "price": "415.10"},
			{"symbol": "BAD", "price": "not-a-number"}
		]}`)
	})
	defer server.Close()

	quotes, err := client.FetchQuotesBulk([]string{"aapl", "MSFT", "nvda"})
	if err != nil {
		t.Fatalf("FetchQuotesBulk: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	if quotes["AAPL"] != 231.55 || quotes["MSFT"] != 415.10 {
		t.Errorf("unexpected quotes map: %v", quotes)
	}
	if _, ok := quotes["NVDA"]; ok {
		t.Error("NVDA should be absent from the result map")
	}
}

func TestFetchQuotesBulkTooManySymbols(t *testing.T) {
	client := NewClient("test-key", "http://unused")

	symbols := make([]string, MaxBulkSymbols+1)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%d", i)
	}

	_, err := client.FetchQuotesBulk(symbols)
	if err == nil {
		t.Fatal("expected error for oversized bulk request")
	}
}

func TestFetchQuotesBulkEmpty(t *testing.T) {
	client := NewClient("test-key", "http://unused")

	quotes, err := client.FetchQuotesBulk(nil)
	if err != nil {
		t.Fatalf("FetchQuotesBulk(nil): %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("expected empty map, got %v", quotes)
	}
}

func TestFetchTrendAverageUsesMostRecentPeriod(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("time_period"); got != "200" {
			t.Errorf("unexpected time_period %q", got)
		}
		fmt.Fprint(w, `{"Technical Analysis: SMA": {
			"2025-08-27": {"SMA": "198.1000"},
			"2025-08-29": {"SMA": "200.5000"},
			"2025-08-28": {"SMA": "199.2000"}
		}}`)
	})
	defer server.Close()

	sma, err := client.FetchTrendAverage("AAPL")
	if err != nil {
		t.Fatalf("FetchTrendAverage: %v", err)
	}
	if sma != 200.5 {
		t.Errorf("sma = %v, want most recent 200.5", sma)
	}
}

func TestFetchDailyCloses(t *testing.T) {
	recent := time.Now().UTC().AddDate(0, -1, 0).Format("2006-01-02")
	older := time.Now().UTC().AddDate(0, -2, 0).Format("2006-01-02")
	ancient := time.Now().UTC().AddDate(-7, 0, 0).Format("2006-01-02")

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"Time Series (Daily)": {
			%q: {"4. close": "110.00"},
			%q: {"4. close": "100.00"},
			%q: {"4. close": "50.00"}
		}}`, recent, older, ancient)
	})
	defer server.Close()

	points, err := client.FetchDailyCloses("AAPL", 5)
	if err != nil {
		t.Fatalf("FetchDailyCloses: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2 inside the 5y window", len(points))
	}
	if !points[0].Date.Before(points[1].Date) {
		t.Error("points not sorted ascending by date")
	}
	if points[0].Close != 100 || points[1].Close != 110 {
		t.Errorf("unexpected closes: %+v", points)
	}
}

func TestFetchDailyClosesEmptySeries(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Time Series (Daily)": {}}`)
	})
	defer server.Close()

	_, err := client.FetchDailyCloses("AAPL", 5)
	if err == nil {
		t.Fatal("expected error for empty series")
	}
	if kind := providerKind(t, err); kind != KindMalformed {
		t.Errorf("kind = %s, want %s", kind, KindMalformed)
	}
}
