// Package google mirrors completed transactions into a Google Sheets
// spreadsheet, one tab per year.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"cuentas/internal/core"
	"cuentas/internal/log"
)

// Mirror rows are laid out as A..I: date, company, kind, category,
// description, gross, net, VAT, transaction id.
const (
	firstDataRow = 2
	idColumn     = "I"
	lastColumn   = "I"
)

var ErrMissingSpreadsheet = errors.New("missing spreadsheet id")

type Config struct {
	SpreadsheetID string
	// SheetName is the base tab name; each year gets "<year> <SheetName>".
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

// New authenticates with a service account and returns a mirror client.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, ErrMissingSpreadsheet
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Movimientos"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}
}

func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger) (*gsheet.Service, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentials []byte
	switch {
	case inline != "":
		credentials = []byte(inline)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentials = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	logger.InfoContext(ctx, "creating sheets service",
		"credentials_size", len(credentials),
		"from_file", inline == "")

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentials),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// MirrorTransaction writes t into the tab for its payment year and returns
// the written range. A transaction already present in the tab has its row
// rewritten in place, so repeated calls never duplicate it.
func (c *Client) MirrorTransaction(ctx context.Context, t core.Transaction) (string, error) {
	if t.PaidAt == nil {
		return "", fmt.Errorf("transaction %s has no payment date", t.ID)
	}
	sheet := yearPrefixedName(c.sheetName, t.PaidAt.Year())

	row, err := c.findRow(ctx, sheet, t.ID)
	if err != nil {
		return "", err
	}
	vr := &gsheet.ValueRange{Values: [][]interface{}{rowFor(t)}}

	if row > 0 {
		rng := rowRange(sheet, row)
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("update row %d: %w", row, err)
		}
		c.logger.InfoContext(ctx, "mirrored transaction rewritten",
			log.FieldTransactionID, t.ID,
			log.FieldCompanyID, t.CompanyID,
			"range", rng)
		return rng, nil
	}

	rng := fmt.Sprintf("%s!A:%s", quoteSheet(sheet), lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append row: %w", err)
	}

	updated := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		updated = resp.Updates.UpdatedRange
	}
	c.logger.InfoContext(ctx, "transaction mirrored",
		log.FieldTransactionID, t.ID,
		log.FieldCompanyID, t.CompanyID,
		"range", updated)
	return updated, nil
}

// RemoveTransaction clears the mirrored row of id from the tab for year.
// A missing row is not an error.
func (c *Client) RemoveTransaction(ctx context.Context, id string, year int) error {
	sheet := yearPrefixedName(c.sheetName, year)
	row, err := c.findRow(ctx, sheet, id)
	if err != nil {
		return err
	}
	if row == 0 {
		return nil
	}
	rng := rowRange(sheet, row)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("clear row %d: %w", row, err)
	}
	c.logger.InfoContext(ctx, "mirrored transaction cleared",
		log.FieldTransactionID, id, "range", rng)
	return nil
}

// findRow returns the sheet row holding id, or 0 when it is not mirrored.
func (c *Client) findRow(ctx context.Context, sheet, id string) (int, error) {
	ids, err := c.readCol(ctx, sheet, idColumn)
	if err != nil {
		return 0, fmt.Errorf("read mirrored ids: %w", err)
	}
	if i := indexOf(ids, id); i >= 0 {
		return firstDataRow + i, nil
	}
	return 0, nil
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", quoteSheet(sheet), row, lastColumn, row)
}

func (c *Client) readCol(ctx context.Context, sheet, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s%d:%s", quoteSheet(sheet), col, firstDataRow, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		out = append(out, safeGet(toStrings(row), 0))
	}
	return out, nil
}

func rowFor(t core.Transaction) []interface{} {
	net, vat := "", ""
	if t.NetAmount.Valid {
		net = t.NetAmount.Decimal.String()
	}
	if t.VATAmount.Valid {
		vat = t.VATAmount.Decimal.String()
	}
	return []interface{}{
		t.PaidAt.Format(time.DateOnly),
		t.CompanyID,
		string(t.Kind),
		t.CategoryName,
		t.Description,
		t.Amount.String(),
		net,
		vat,
		t.ID,
	}
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName turns "Movimientos" into "2025 Movimientos", leaving
// names that already start with a year untouched.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if v == target {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
