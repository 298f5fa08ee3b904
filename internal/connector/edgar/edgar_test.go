package edgar

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/inletfeed/inlet/internal/connector"
)

const form4Submission = `SEC-HEADER stuff
<ownershipDocument>
  <issuer>
    <issuerName>Example Corp</issuerName>
    <issuerTradingSymbol>EXMP</issuerTradingSymbol>
  </issuer>
  <reportingOwner>
    <reportingOwnerId><rptOwnerName>Doe Jane</rptOwnerName></reportingOwnerId>
    <reportingOwnerRelationship><officerTitle>CEO</officerTitle></reportingOwnerRelationship>
  </reportingOwner>
  <nonDerivativeTable>
    <nonDerivativeTransaction>
      <transactionDate><value>2025-01-06</value></transactionDate>
      <transactionCoding><transactionCode>P</transactionCode></transactionCoding>
      <transactionAmounts>
        <transactionShares><value>1000</value></transactionShares>
        <transactionPricePerShare><value>25.50</value></transactionPricePerShare>
        <transactionAcquiredDisposedCode><value>A</value></transactionAcquiredDisposedCode>
      </transactionAmounts>
    </nonDerivativeTransaction>
  </nonDerivativeTable>
</ownershipDocument>
trailer`

const thirteenFSubmission = `SEC-HEADER stuff
<ns1:informationTable xmlns:ns1="http://www.sec.gov/edgar/document/thirteenf/informationtable">
  <ns1:infoTable>
    <ns1:nameOfIssuer>Example Corp</ns1:nameOfIssuer>
    <ns1:titleOfClass>COM</ns1:titleOfClass>
    <ns1:cusip>30303M102</ns1:cusip>
    <ns1:value>125000</ns1:value>
    <ns1:shrsOrPrnAmt><ns1:sshPrnamt>500000</ns1:sshPrnamt></ns1:shrsOrPrnAmt>
  </ns1:infoTable>
  <ns1:infoTable>
    <ns1:nameOfIssuer>Other Inc</ns1:nameOfIssuer>
    <ns1:value>50000</ns1:value>
    <ns1:shrsOrPrnAmt><ns1:sshPrnamt>10000</ns1:sshPrnamt></ns1:shrsOrPrnAmt>
  </ns1:infoTable>
</ns1:informationTable>
trailer`

func atomFeed(entries []string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Latest Filings</title>` + strings.Join(entries, "\n") + `
</feed>`
}

func atomEntry(title, accession string) string {
	return fmt.Sprintf(`<entry>
  <title>%s</title>
  <link rel="alternate" href="https://www.sec.gov/Archives/edgar/data/1/%s-index.htm"/>
  <id>urn:tag:sec.gov,2008:accession-number=%s</id>
  <updated>2025-01-06T10:00:00-05:00</updated>
</entry>`, title, accession, accession)
}

func newTestConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	t.Setenv("SEC_EDGAR_USER_AGENT", "test test@example.com")

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(nil)
	c.baseURL = srv.URL
	c.retryDelay = time.Millisecond
	return c
}

func TestFetch_Form4(t *testing.T) {
	feed := atomFeed([]string{
		atomEntry("4 - Doe Jane (0001234567) (Reporting)", "0001234567-25-000001"),
	})

	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/cgi-bin/browse-edgar"):
			_, _ = w.Write([]byte(feed))
		case strings.HasSuffix(r.URL.Path, ".txt"):
			_, _ = w.Write([]byte(form4Submission))
		default:
			http.NotFound(w, r)
		}
	}))

	res, err := c.Fetch(context.Background(), connector.FetchParams{
		Config: map[string]any{"filing_types": []string{"form4"}},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.RawItems) != 1 {
		t.Fatalf("got %d items, want 1", len(res.RawItems))
	}

	var filing Filing
	if err := json.Unmarshal(res.RawItems[0], &filing); err != nil {
		t.Fatalf("decode filing: %v", err)
	}
	if filing.Issuer != "Example Corp" || filing.IssuerSymbol != "EXMP" {
		t.Errorf("issuer = %q / %q", filing.Issuer, filing.IssuerSymbol)
	}
	if filing.Owner != "Doe Jane" || filing.OwnerTitle != "CEO" {
		t.Errorf("owner = %q / %q", filing.Owner, filing.OwnerTitle)
	}
	if len(filing.Transactions) != 1 || filing.TotalValue != 25500 {
		t.Errorf("transactions = %+v, total %v", filing.Transactions, filing.TotalValue)
	}

	var cur Cursor
	connector.DecodeCursor(res.NextCursor, &cur)
	if cur["form4"].LastAccession != "0001234567-25-000001" {
		t.Errorf("cursor = %+v", cur)
	}
}

func TestFetch_StopsAtLastAccession(t *testing.T) {
	feed := atomFeed([]string{
		atomEntry("4 - New Filer (0000000002) (Reporting)", "0000000002-25-000002"),
		atomEntry("4 - Old Filer (0000000001) (Reporting)", "0000000001-25-000001"),
	})

	var detailCalls int32
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/cgi-bin/browse-edgar"):
			_, _ = w.Write([]byte(feed))
		case strings.HasSuffix(r.URL.Path, ".txt"):
			atomic.AddInt32(&detailCalls, 1)
			_, _ = w.Write([]byte(form4Submission))
		default:
			http.NotFound(w, r)
		}
	}))

	cursor := connector.EncodeCursor(Cursor{
		"form4": {LastAccession: "0000000001-25-000001"},
	}, nil)

	res, err := c.Fetch(context.Background(), connector.FetchParams{
		Config: map[string]any{"filing_types": []string{"form4"}},
		Cursor: cursor,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.RawItems) != 1 {
		t.Fatalf("got %d items, want 1 (stop at seen accession)", len(res.RawItems))
	}
	if got := atomic.LoadInt32(&detailCalls); got != 1 {
		t.Errorf("detail fetched %d times, want 1", got)
	}

	var cur Cursor
	connector.DecodeCursor(res.NextCursor, &cur)
	if cur["form4"].LastAccession != "0000000002-25-000002" {
		t.Errorf("high-water = %q", cur["form4"].LastAccession)
	}
}

func TestFetch_MissingUserAgent(t *testing.T) {
	t.Setenv("SEC_EDGAR_USER_AGENT", "")

	c := New(nil)
	prev := json.RawMessage(`{"form4":{"last_accession":"0000000001-25-000001"}}`)
	res, err := c.Fetch(context.Background(), connector.FetchParams{
		Config: map[string]any{"filing_types": []string{"form4"}},
		Cursor: prev,
	})
	if err != nil {
		t.Fatalf("missing user agent must not fail the fetch: %v", err)
	}
	if res.Meta.ErrorCode != "missing_credentials" {
		t.Errorf("error code = %q", res.Meta.ErrorCode)
	}
	if string(res.NextCursor) != string(prev) {
		t.Errorf("cursor changed")
	}
}

func TestFetchFeed_GzipResponse(t *testing.T) {
	feed := atomFeed([]string{
		atomEntry("4 - Doe Jane (0001234567) (Reporting)", "0001234567-25-000001"),
	})

	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// EDGAR's CDN compresses when the client advertises gzip.
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			t.Error("request did not advertise gzip")
			http.Error(w, "no gzip", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(feed))
		_ = gz.Close()
	}))

	entries, err := c.fetchFeed(context.Background(), FilingForm4, 5)
	if err != nil {
		t.Fatalf("fetch feed: %v", err)
	}
	if len(entries) != 1 || entries[0].accession != "0001234567-25-000001" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestDoGet_RetriesExhausted(t *testing.T) {
	var calls int32
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.doGet(context.Background(), c.baseURL+"/throttled")
	var te *connector.TransientError
	if !errors.As(err, &te) || te.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected transient 429 after retries, got %v", err)
	}
	// Initial attempt plus three retries.
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("made %d requests, want 4", got)
	}
}

func TestDoGet_BackoffEscalates(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	c.retryDelay = 50 * time.Millisecond
	// Disable the request-spacing limiter so the gaps measure backoff only.
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	if _, err := c.doGet(context.Background(), c.baseURL+"/flaky"); err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 4 {
		t.Fatalf("made %d requests, want 4", len(times))
	}
	// Each retry waits at least base, 2x base, 4x base.
	for i, want := range []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond} {
		if gap := times[i+1].Sub(times[i]); gap < want {
			t.Errorf("retry %d waited %v, want at least %v", i+1, gap, want)
		}
	}
}

func TestDoGet_NonRetryableStatus(t *testing.T) {
	var calls int32
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.doGet(context.Background(), c.baseURL+"/denied")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("made %d requests, want 1 (403 is not retryable)", got)
	}
}

func TestParse13F(t *testing.T) {
	var filing Filing
	err := parse13F([]byte(thirteenFSubmission), "13F-HR - EXAMPLE CAPITAL LP (0001067983) (Filer)", &filing)
	if err != nil {
		t.Fatalf("parse 13f: %v", err)
	}

	if filing.Institution != "EXAMPLE CAPITAL LP" {
		t.Errorf("institution = %q", filing.Institution)
	}
	if len(filing.Holdings) != 2 {
		t.Fatalf("holdings = %+v", filing.Holdings)
	}
	if filing.Holdings[0].Issuer != "Example Corp" || filing.Holdings[0].CUSIP != "30303M102" {
		t.Errorf("holding = %+v", filing.Holdings[0])
	}
	if filing.Holdings[0].Shares != 500000 {
		t.Errorf("shares = %v", filing.Holdings[0].Shares)
	}
	if filing.HoldingsValue != 175000 {
		t.Errorf("holdings value = %v", filing.HoldingsValue)
	}
}

func TestParseForm4_MissingDocument(t *testing.T) {
	var filing Filing
	if err := parseForm4([]byte("no xml here"), &filing); err == nil {
		t.Fatal("expected error for missing ownershipDocument")
	}
}

func TestParseConfig(t *testing.T) {
	if _, err := ParseConfig(nil); !connector.IsSetup(err) {
		t.Fatal("expected setup error for missing filing_types")
	}
	if _, err := ParseConfig(map[string]any{"filing_types": []string{"10-K"}}); !connector.IsSetup(err) {
		t.Fatal("expected setup error for unsupported types only")
	}

	cfg, err := ParseConfig(map[string]any{
		"filing_types":          []string{"FORM4", "13f", "10-K"},
		"max_filings_per_type":  500,
		"min_transaction_value": 100000,
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if len(cfg.FilingTypes) != 2 {
		t.Errorf("filing types = %v (unknown entries should drop)", cfg.FilingTypes)
	}
	if cfg.MaxFilings != 100 {
		t.Errorf("max filings = %d, want clamp to 100", cfg.MaxFilings)
	}
	if cfg.MinTransactionValue != 100000 {
		t.Errorf("min transaction value = %v", cfg.MinTransactionValue)
	}
}

func TestNormalize_Form4(t *testing.T) {
	raw := json.RawMessage(`{
		"filing_type":"form4","accession":"0001234567-25-000001",
		"filed_at":"2025-01-06T15:00:00.000Z",
		"index_url":"https://www.sec.gov/Archives/x-index.htm",
		"issuer":"Example Corp","issuer_symbol":"EXMP",
		"owner":"Doe Jane","owner_title":"CEO",
		"transactions":[{"code":"P","date":"2025-01-06","shares":1000,"price_per_share":25.5,"value":25500,"disposition":"A"}],
		"total_value":25500
	}`)

	c := New(nil)
	draft, err := c.Normalize(raw, connector.FetchParams{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if draft.Title != "Example Corp: insider transaction by Doe Jane" {
		t.Errorf("title = %q", draft.Title)
	}
	if !strings.Contains(draft.BodyText, "Purchase 2025-01-06: 1000 shares @ $25.50 ($25500)") {
		t.Errorf("body = %q", draft.BodyText)
	}
	if draft.ExternalID != "0001234567-25-000001" {
		t.Errorf("external id = %q", draft.ExternalID)
	}
	if draft.Metadata["symbol"] != "EXMP" {
		t.Errorf("metadata = %v", draft.Metadata)
	}
}

func TestNormalize_MissingNames(t *testing.T) {
	c := New(nil)

	form4 := json.RawMessage(`{"filing_type":"form4","accession":"0000000001-25-000001"}`)
	if _, err := c.Normalize(form4, connector.FetchParams{}); err == nil {
		t.Fatal("expected error for form 4 without issuer")
	}

	thirteenF := json.RawMessage(`{"filing_type":"13f","accession":"0000000001-25-000001"}`)
	if _, err := c.Normalize(thirteenF, connector.FetchParams{}); err == nil {
		t.Fatal("expected error for 13f without institution")
	}
}

func TestInstitutionFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"13F-HR - EXAMPLE CAPITAL LP (0001067983) (Filer)", "EXAMPLE CAPITAL LP"},
		{"4 - Doe Jane (0001234567) (Reporting)", "Doe Jane"},
		{"garbage", ""},
	}

	for _, tt := range tests {
		if got := institutionFromTitle(tt.title); got != tt.want {
			t.Errorf("institutionFromTitle(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
