package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "INGRESO"
	Expense Kind = "GASTO"

	Pending   Status = "PENDING"
	Completed Status = "COMPLETED"

	CLP Currency = "CLP"
	USD Currency = "USD"
)

// Ledger account codes carried by categories.
const (
	AccountIncome         = "INGRESO"
	AccountOperational    = "GASTO_OPERACIONAL"
	AccountAdministrative = "GASTO_ADMINISTRATIVO"
	AccountFinancial      = "GASTO_FINANCIERO"
)

const maxDescriptionLen = 200

type (
	Kind     string
	Status   string
	Currency string

	Transaction struct {
		ID           string
		CompanyID    string
		CategoryID   string
		CategoryName string
		Kind         Kind
		Description  string

		Amount       decimal.Decimal     // gross (monto)
		NetAmount    decimal.NullDecimal // montoNeto, null on legacy rows
		VATAmount    decimal.NullDecimal // montoIva
		SubjectToVAT bool

		PaidAt       *time.Time // fecha, nil while pending
		DocumentDate *time.Time // fechaDocumento
		Status       Status

		OriginalCurrency Currency
		OriginalAmount   decimal.NullDecimal
		ExchangeRate     decimal.NullDecimal

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Category struct {
		ID        string
		CompanyID string
		Name      string
		Kind      Kind
		Account   string
	}

	Company struct {
		ID       string
		UserID   string
		Name     string
		Currency Currency
	}

	HistoryEntry struct {
		ID            string
		TransactionID string
		UserID        string
		Action        string
		Details       string
		CreatedAt     time.Time
	}
)

var (
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrInvalidStatus      = errors.New("invalid transaction status")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
	ErrMissingPaymentDate = errors.New("payment date is required when status is COMPLETED")
)

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (s Status) Valid() bool {
	return s == Pending || s == Completed
}

func (c Currency) Valid() bool {
	return c == CLP || c == USD
}

// ParseKind normalizes user input into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// ParseStatus normalizes user input into a Status, defaulting to COMPLETED.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Completed, nil
	}
	st := Status(strings.ToUpper(s))
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// ParseCurrency normalizes user input into a Currency, defaulting to CLP.
func ParseCurrency(s string) (Currency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CLP, nil
	}
	c := Currency(strings.ToUpper(s))
	if !c.Valid() {
		return "", ErrInvalidCurrency
	}
	return c, nil
}

// ReportAmount is the amount a transaction contributes to the income statement:
// the net amount when recorded, otherwise the gross amount.
func (t Transaction) ReportAmount() decimal.Decimal {
	if t.NetAmount.Valid {
		return t.NetAmount.Decimal
	}
	return t.Amount
}

// TaxAmount is the VAT portion, zero when absent.
func (t Transaction) TaxAmount() decimal.Decimal {
	if t.VATAmount.Valid {
		return t.VATAmount.Decimal
	}
	return decimal.Zero
}

// TaxDate is the date used for VAT bucketing.
func (t Transaction) TaxDate() *time.Time {
	if t.DocumentDate != nil {
		return t.DocumentDate
	}
	return t.PaidAt
}

func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if !t.Status.Valid() {
		return ErrInvalidStatus
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > maxDescriptionLen {
		return errors.New("description too long (max 200 characters)")
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if t.OriginalCurrency != "" && !t.OriginalCurrency.Valid() {
		return ErrInvalidCurrency
	}
	if t.OriginalAmount.Valid && !t.OriginalAmount.Decimal.IsPositive() {
		return errors.New("original amount must be positive")
	}
	if t.ExchangeRate.Valid && !t.ExchangeRate.Decimal.IsPositive() {
		return errors.New("exchange rate must be positive")
	}
	if t.Status == Completed && t.PaidAt == nil {
		return ErrMissingPaymentDate
	}
	return nil
}
