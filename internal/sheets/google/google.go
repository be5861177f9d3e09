// Package google mirrors user statements into a Google Sheets spreadsheet,
// one tab per user.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	ports "github.com/bakir004/expense-tracker-sub001/internal/sheets"
)

type Config struct {
	SpreadsheetID   string
	SheetPrefix     string
	CredentialsFile string
	CredentialsJSON string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	prefix        string

	// Tab titles known to exist, filled lazily from the spreadsheet.
	mu    sync.Mutex
	known map[string]bool
}

// Ensure interface conformance
var _ ports.StatementWriter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	credentialsJSON, err := loadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(ctx, cfg.SpreadsheetID, cfg.SheetPrefix,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewWithOptions creates a client with explicit API options.
func NewWithOptions(ctx context.Context, spreadsheetID, prefix string, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		prefix:        prefix,
	}, nil
}

func loadCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		slog.DebugContext(ctx, "Using inline JSON credentials", log.FieldComponent, log.ComponentSheets)
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.DebugContext(ctx, "Read credentials file",
			log.FieldComponent, log.ComponentSheets,
			"path", cfg.CredentialsFile,
			"size", len(data))
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}
}

// WriteStatement replaces the user's tab with the rendered statement,
// creating the tab on first use.
func (c *Client) WriteStatement(ctx context.Context, st core.Statement) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	title := ports.TabTitle(c.prefix, st.User)
	if err := c.ensureSheet(ctx, title); err != nil {
		return err
	}

	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, a1(title, "A:F"), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet %s: %w", title, err)
	}

	rows := ports.StatementRows(st)
	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = make([]any, len(row))
		for j, v := range row {
			values[i][j] = v
		}
	}

	vr := &gsheet.ValueRange{Values: values}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(title, "A1"), vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update sheet %s: %w", title, err)
	}

	slog.DebugContext(ctx, "Statement mirrored",
		log.FieldComponent, log.ComponentSheets,
		log.FieldSheet, title,
		log.FieldUserID, st.User.ID.String(),
		"rows", len(rows))
	return nil
}

func (c *Client) ensureSheet(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known == nil {
		resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
			Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
		}
		known := make(map[string]bool, len(resp.Sheets))
		for _, sh := range resp.Sheets {
			if sh.Properties != nil {
				known[sh.Properties.Title] = true
			}
		}
		c.known = known
	}
	if c.known[title] {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.known[title] = true

	slog.InfoContext(ctx, "Created statement sheet",
		log.FieldComponent, log.ComponentSheets,
		log.FieldSheet, title)
	return nil
}

// a1 builds an A1 range on a quoted sheet title.
func a1(title, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(title, "'", "''"), cells)
}
