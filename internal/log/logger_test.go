package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newJSONLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(Config{Handler: slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})})
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &rec); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return rec
}

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo).WithComponent(ComponentAccounting)

	logger.Info("report built", FieldReport, "vat_summary")
	rec := lastRecord(t, &buf)
	if rec[FieldComponent] != ComponentAccounting {
		t.Fatalf("component = %v", rec[FieldComponent])
	}
	if rec[FieldReport] != "vat_summary" {
		t.Fatalf("report = %v", rec[FieldReport])
	}

	child := logger.With(FieldCompanyID, "co-1")
	child.WarnContext(context.Background(), "slow query")
	rec = lastRecord(t, &buf)
	if rec[FieldComponent] != ComponentAccounting || rec[FieldCompanyID] != "co-1" {
		t.Fatalf("With lost fields: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelWarn)
	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %s", buf.String())
	}
	logger.Error("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected error record")
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo).WithComponent(ComponentHTTP)

	ctx := NewContext(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Fatalf("FromContext returned a different logger")
	}
	if got := FromContext(context.Background()); got == nil || got.Component() != "unknown" {
		t.Fatalf("expected fallback logger, got %+v", got)
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{502, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(newJSONLogger(&buf, slog.LevelDebug))
		r := httptest.NewRequest("GET", "/api/v1/reports/vat?month=2025-03", nil)
		sl.LogHTTPEnd(context.Background(), r, tt.status, 12, "192.0.2.1")

		rec := lastRecord(t, &buf)
		if rec["level"] != tt.level {
			t.Errorf("status %d logged at %v, want %s", tt.status, rec["level"], tt.level)
		}
		if rec[FieldQuery] != "month=2025-03" || rec[FieldClientIP] != "192.0.2.1" {
			t.Errorf("missing request fields: %v", rec)
		}
		if rec[FieldSuccess] != (tt.status < 400) {
			t.Errorf("success = %v for status %d", rec[FieldSuccess], tt.status)
		}
	}
}

func TestLogTransactionSavedAndError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newJSONLogger(&buf, slog.LevelInfo))

	sl.LogTransactionSaved(context.Background(), OpCreate, "co-1", "tx-1", "INGRESO", decimal.RequireFromString("119000"))
	rec := lastRecord(t, &buf)
	if rec[FieldAmount] != "119000" || rec[FieldTransactionID] != "tx-1" || rec[FieldComponent] != ComponentLedger {
		t.Fatalf("unexpected record %v", rec)
	}

	sl.LogError(context.Background(), "export failed", errors.New("disk full"), ComponentExport, OpExport, nil)
	rec = lastRecord(t, &buf)
	if rec[FieldError] != "disk full" || rec[FieldOperation] != OpExport || rec["level"] != "ERROR" {
		t.Fatalf("unexpected record %v", rec)
	}
}
