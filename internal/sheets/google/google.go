// Package google writes ledger snapshots to a Google spreadsheet, one tab
// per table. Tabs are created on first export and rewritten on every export.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledger/internal/log"
	ports "ledger/internal/sheets"
)

// Config selects the spreadsheet and how to authenticate against it. Either
// CredentialsFile (service account) or OAuthClientFile plus OAuthTokenFile
// must be set.
type Config struct {
	SpreadsheetID   string
	TabPrefix       string
	CredentialsFile string
	OAuthClientFile string
	OAuthTokenFile  string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	prefix        string
	logger        *log.Logger
}

var _ ports.Exporter = (*Client)(nil)

// New builds a client from cfg. Extra options, when given, replace the
// credential options derived from cfg.
func New(ctx context.Context, cfg Config, logger *log.Logger, extra ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	opts := extra
	if len(extra) == 0 {
		auth, err := credentialOptions(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		opts = auth
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	prefix := strings.TrimSpace(cfg.TabPrefix)
	if prefix == "" {
		prefix = "Ledger"
	}
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, prefix: prefix, logger: logger}, nil
}

func credentialOptions(ctx context.Context, cfg Config, logger *log.Logger) ([]goption.ClientOption, error) {
	switch {
	case cfg.CredentialsFile != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.InfoContext(ctx, "Using service account credentials", "path", cfg.CredentialsFile)
		return []goption.ClientOption{
			goption.WithCredentialsJSON(b),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}, nil
	case cfg.OAuthClientFile != "" && cfg.OAuthTokenFile != "":
		oc, err := LoadOAuthConfig(cfg.OAuthClientFile)
		if err != nil {
			return nil, err
		}
		tok, err := LoadToken(cfg.OAuthTokenFile)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "Using OAuth user credentials", "token_file", cfg.OAuthTokenFile)
		return []goption.ClientOption{goption.WithTokenSource(oc.TokenSource(ctx, tok))}, nil
	default:
		return nil, errors.New("missing Google credentials (set a service account file or an OAuth client and token file)")
	}
}

// LoadOAuthConfig reads an OAuth client secret file scoped to spreadsheets.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read OAuth client file: %w", err)
	}
	cfg, err := goauth.ConfigFromJSON(b, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse OAuth client file: %w", err)
	}
	return cfg, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Export replaces the contents of every snapshot tab.
func (c *Client) Export(ctx context.Context, s ports.Snapshot) (ports.Result, error) {
	tables := s.Tables()
	year := s.TakenAt.Year()

	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = tabName(c.prefix, t.Name, year)
	}
	if err := c.ensureTabs(ctx, names); err != nil {
		return ports.Result{}, err
	}

	ranges := make([]string, len(names))
	data := make([]*gsheet.ValueRange, len(tables))
	rows := 0
	for i, t := range tables {
		ranges[i] = quoteRange(names[i])
		values := make([][]any, 0, len(t.Rows)+1)
		header := make([]any, len(t.Header))
		for j, h := range t.Header {
			header[j] = h
		}
		values = append(values, header)
		values = append(values, t.Rows...)
		data[i] = &gsheet.ValueRange{Range: ranges[i], MajorDimension: "ROWS", Values: values}
		rows += len(t.Rows)
	}

	if _, err := c.svc.Spreadsheets.Values.BatchClear(c.spreadsheetID, &gsheet.BatchClearValuesRequest{Ranges: ranges}).Context(ctx).Do(); err != nil {
		return ports.Result{}, fmt.Errorf("clear tabs: %w", err)
	}
	req := &gsheet.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return ports.Result{}, fmt.Errorf("write tabs: %w", err)
	}

	c.logger.InfoContext(ctx, "Exported ledger snapshot",
		log.FieldOperation, log.OpExport,
		log.FieldUser, s.Owner,
		"tabs", len(names),
		"rows", rows)
	return ports.Result{Tabs: names, Rows: rows}, nil
}

// ensureTabs adds the tabs the spreadsheet does not have yet.
func (c *Client) ensureTabs(ctx context.Context, names []string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	existing := make(map[string]bool, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			existing[sh.Properties.Title] = true
		}
	}

	var reqs []*gsheet.Request
	for _, name := range names {
		if existing[name] {
			continue
		}
		reqs = append(reqs, &gsheet.Request{AddSheet: &gsheet.AddSheetRequest{
			Properties: &gsheet.SheetProperties{Title: name},
		}})
	}
	if len(reqs) == 0 {
		return nil
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tabs: %w", err)
	}
	c.logger.InfoContext(ctx, "Created spreadsheet tabs", "count", len(reqs))
	return nil
}

// tabName returns "<year> <prefix> <table>" unless prefix already starts
// with a 4-digit year.
func tabName(prefix, table string, year int) string {
	base := strings.TrimSpace(table)
	if p := strings.TrimSpace(prefix); p != "" {
		base = p + " " + base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// quoteRange wraps a tab title for A1 notation.
func quoteRange(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}
