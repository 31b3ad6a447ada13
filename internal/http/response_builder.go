package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cuentas/internal/accounting"
	"cuentas/internal/core"
	"cuentas/internal/fx"
	"cuentas/internal/ledger"
	"cuentas/internal/log"
	"cuentas/internal/services"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, RequestID: w.Header().Get("X-Request-ID")})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var source *accounting.DataSourceError
	var integrity *accounting.DataIntegrityError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, accounting.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fx.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &source):
		return http.StatusBadGateway
	case errors.As(err, &integrity):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err and answers with its mapped status. Server-side
// failures never echo internal details.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentHTTP)
	if status >= http.StatusInternalServerError {
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err,
			log.ComponentHTTP, op, log.LogFields{log.FieldStatusCode: status})
		writeError(w, status, http.StatusText(status))
		return
	}
	logger.InfoContext(r.Context(), "Request rejected",
		log.FieldOperation, op, log.FieldStatusCode, status, log.FieldError, err)
	writeError(w, status, err.Error())
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type transactionResponse struct {
	ID               string              `json:"id"`
	CategoryID       string              `json:"categoryId"`
	CategoryName     string              `json:"categoryName"`
	Kind             core.Kind           `json:"kind"`
	Description      string              `json:"description"`
	Amount           decimal.Decimal     `json:"amount"`
	NetAmount        decimal.NullDecimal `json:"netAmount"`
	VATAmount        decimal.NullDecimal `json:"vatAmount"`
	SubjectToVAT     bool                `json:"subjectToVat"`
	PaidAt           *time.Time          `json:"paidAt"`
	DocumentDate     *time.Time          `json:"documentDate"`
	Status           core.Status         `json:"status"`
	OriginalCurrency core.Currency       `json:"originalCurrency,omitempty"`
	OriginalAmount   decimal.NullDecimal `json:"originalAmount"`
	ExchangeRate     decimal.NullDecimal `json:"exchangeRate"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func newTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		CategoryID:       t.CategoryID,
		CategoryName:     t.CategoryName,
		Kind:             t.Kind,
		Description:      t.Description,
		Amount:           t.Amount,
		NetAmount:        t.NetAmount,
		VATAmount:        t.VATAmount,
		SubjectToVAT:     t.SubjectToVAT,
		PaidAt:           t.PaidAt,
		DocumentDate:     t.DocumentDate,
		Status:           t.Status,
		OriginalCurrency: t.OriginalCurrency,
		OriginalAmount:   t.OriginalAmount,
		ExchangeRate:     t.ExchangeRate,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

type categoryResponse struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    core.Kind `json:"kind"`
	Account string    `json:"account"`
}

func newCategoryResponse(c core.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, Kind: c.Kind, Account: c.Account}
}

// vatResponse adds the derived payable flag to the summary.
type vatResponse struct {
	core.VATSummary
	Payable bool `json:"payable"`
}

type rateResponse struct {
	Currency core.Currency    `json:"currency"`
	Rate     *decimal.Decimal `json:"rate"`
}
