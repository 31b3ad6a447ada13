package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cuentas/internal/core"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 500
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// ParseMonth reads ?month=YYYY-MM in loc. A missing value yields nil, which
// report operations treat as the current month.
func ParseMonth(query url.Values, loc *time.Location) (*core.Period, error) {
	v := strings.TrimSpace(query.Get("month"))
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01", v, loc)
	if err != nil {
		return nil, badRequest("invalid month %q, expected YYYY-MM", v)
	}
	p := core.MonthOf(t)
	return &p, nil
}

// ParseRange reads ?from=YYYY-MM-DD&to=YYYY-MM-DD as a closed interval in
// loc, with "to" covering its whole day. Without either bound it falls back
// to ParseMonth.
func ParseRange(query url.Values, loc *time.Location) (*core.Period, error) {
	from := strings.TrimSpace(query.Get("from"))
	to := strings.TrimSpace(query.Get("to"))
	if from == "" && to == "" {
		return ParseMonth(query, loc)
	}
	if from == "" || to == "" {
		return nil, badRequest("both from and to are required")
	}

	start, err := time.ParseInLocation(time.DateOnly, from, loc)
	if err != nil {
		return nil, badRequest("invalid from date %q, expected YYYY-MM-DD", from)
	}
	end, err := time.ParseInLocation(time.DateOnly, to, loc)
	if err != nil {
		return nil, badRequest("invalid to date %q, expected YYYY-MM-DD", to)
	}
	p := core.Period{Start: start, End: end.AddDate(0, 0, 1).Add(-time.Nanosecond)}
	if err := p.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}
	return &p, nil
}

// ParseAsOf reads ?asOf=YYYY-MM-DD. Zero means "now".
func ParseAsOf(query url.Values, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(query.Get("asOf"))
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, badRequest("invalid asOf %q, expected YYYY-MM-DD", v)
	}
	return t, nil
}

// ParseKind reads ?kind=, defaulting to expenses.
func ParseKind(query url.Values) (core.Kind, error) {
	v := strings.TrimSpace(query.Get("kind"))
	if v == "" {
		return core.Expense, nil
	}
	k, err := core.ParseKind(v)
	if err != nil {
		return "", badRequest("invalid kind %q", v)
	}
	return k, nil
}

// ParseLimit reads ?limit=, capped at maxListLimit. Zero lets the service
// pick its default.
func ParseLimit(query url.Values) (int, error) {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("invalid limit %q", v)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// ParseFormat reads ?format=, defaulting to def.
func ParseFormat(query url.Values, def string, allowed ...string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if v == "" {
		return def, nil
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", badRequest("unsupported format %q", v)
}

// DecodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over maxBodyBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
