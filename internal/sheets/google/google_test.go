package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledger/internal/core"
	ports "ledger/internal/sheets"
)

func TestTabName(t *testing.T) {
	cases := []struct {
		prefix, table string
		want          string
	}{
		{"Ledger", "Debts", "2026 Ledger Debts"},
		{"2025 Ledger", "Debts", "2025 Ledger Debts"},
		{"", "Summary", "2026 Summary"},
		{"  Home ", "Accounts", "2026 Home Accounts"},
		{"Ledger ", "Debts", "2026 Ledger Debts"},
		{" 2025 Ledger\t", "Budgets", "2025 Ledger Budgets"},
	}
	for _, c := range cases {
		if got := tabName(c.prefix, c.table, 2026); got != c.want {
			t.Errorf("tabName(%q, %q) = %q, want %q", c.prefix, c.table, got, c.want)
		}
	}
}

func TestQuoteRange(t *testing.T) {
	if got := quoteRange("2026 Bob's Debts"); got != "'2026 Bob''s Debts'" {
		t.Errorf("quoteRange = %q", got)
	}
}

type fakeSheets struct {
	mu      sync.Mutex
	tabs    []string
	added   []string
	cleared []string
	written map[string][][]any
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.Method + " " + r.URL.Path {
	case "GET /v4/spreadsheets/sid":
		var ss gsheet.Spreadsheet
		for _, t := range f.tabs {
			ss.Sheets = append(ss.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{Title: t}})
		}
		json.NewEncoder(w).Encode(ss)
	case "POST /v4/spreadsheets/sid:batchUpdate":
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.added = append(f.added, rq.AddSheet.Properties.Title)
			f.tabs = append(f.tabs, rq.AddSheet.Properties.Title)
		}
		json.NewEncoder(w).Encode(gsheet.BatchUpdateSpreadsheetResponse{SpreadsheetId: "sid"})
	case "POST /v4/spreadsheets/sid/values:batchClear":
		var req gsheet.BatchClearValuesRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.cleared = append(f.cleared, req.Ranges...)
		json.NewEncoder(w).Encode(gsheet.BatchClearValuesResponse{SpreadsheetId: "sid"})
	case "POST /v4/spreadsheets/sid/values:batchUpdate":
		var req gsheet.BatchUpdateValuesRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, d := range req.Data {
			f.written[d.Range] = d.Values
		}
		json.NewEncoder(w).Encode(gsheet.BatchUpdateValuesResponse{SpreadsheetId: "sid"})
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), Config{SpreadsheetID: "sid", TabPrefix: "Ledger"}, nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func snapshot() ports.Snapshot {
	return ports.Snapshot{
		Owner:   "alice@example.com",
		TakenAt: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
		Debts: []core.DebtRecord{
			{ID: 1, Person: "Alex", Amount: decimal.NewFromInt(120)},
			{ID: 2, Person: "Sam", Amount: decimal.NewFromInt(40), Given: true},
		},
	}
}

func TestExport(t *testing.T) {
	f := &fakeSheets{tabs: []string{"2026 Ledger Summary"}, written: map[string][][]any{}}
	c := newTestClient(t, f)

	res, err := c.Export(context.Background(), snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tabs) != 6 || res.Rows != 10 {
		t.Fatalf("result = %+v", res)
	}

	if len(f.added) != 5 {
		t.Errorf("added = %v, existing tab should not be re-added", f.added)
	}
	for _, a := range f.added {
		if a == "2026 Ledger Summary" {
			t.Errorf("summary tab added twice")
		}
	}
	if len(f.cleared) != 6 {
		t.Errorf("cleared = %v", f.cleared)
	}

	debts := f.written["'2026 Ledger Debts'"]
	if len(debts) != 3 {
		t.Fatalf("debts tab = %v", debts)
	}
	if debts[0][1] != "Person" || debts[1][1] != "Alex" || debts[2][2] != "Lent" {
		t.Errorf("debts tab = %v", debts)
	}
	if debts[1][3] != 120.0 {
		t.Errorf("amount = %#v, want number", debts[1][3])
	}

	// A second export only rewrites values.
	f.added = nil
	if _, err := c.Export(context.Background(), snapshot()); err != nil {
		t.Fatal(err)
	}
	if len(f.added) != 0 {
		t.Errorf("tabs re-added: %v", f.added)
	}
}

func TestExport_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(context.Background(), Config{SpreadsheetID: "sid"}, nil,
		goption.WithEndpoint(srv.URL+"/"), goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Export(context.Background(), snapshot()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_RequiresSettings(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error without spreadsheet id")
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "sid"}, nil); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "sid", CredentialsFile: filepath.Join(t.TempDir(), "none.json")}, nil); err == nil {
		t.Error("expected error for missing credentials file")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	if err := SaveToken(path, tok); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	got, err := LoadToken(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.RefreshToken != "r" || got.AccessToken != "a" {
		t.Errorf("token = %+v", got)
	}
}

func TestLoadOAuthConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	body := `{"installed":{"client_id":"cid","client_secret":"cs","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOAuthConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "cid" || len(cfg.Scopes) != 1 || cfg.Scopes[0] != gsheet.SpreadsheetsScope {
		t.Errorf("config = %+v", cfg)
	}
}
