package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionSnapshot is the JSON form of a transaction stored in history
// entries and carried by change events.
type TransactionSnapshot struct {
	ID               string              `json:"id"`
	CompanyID        string              `json:"companyId"`
	CategoryID       string              `json:"categoryId"`
	Kind             Kind                `json:"kind"`
	Description      string              `json:"description"`
	Amount           decimal.Decimal     `json:"amount"`
	NetAmount        decimal.NullDecimal `json:"netAmount"`
	VATAmount        decimal.NullDecimal `json:"vatAmount"`
	SubjectToVAT     bool                `json:"subjectToVat"`
	PaidAt           *time.Time          `json:"paidAt"`
	DocumentDate     *time.Time          `json:"documentDate"`
	Status           Status              `json:"status"`
	OriginalCurrency Currency            `json:"originalCurrency"`
	OriginalAmount   decimal.NullDecimal `json:"originalAmount"`
	ExchangeRate     decimal.NullDecimal `json:"exchangeRate"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// Snapshot serializes the transaction for the audit trail.
func (t Transaction) Snapshot() ([]byte, error) {
	return json.Marshal(TransactionSnapshot{
		ID:               t.ID,
		CompanyID:        t.CompanyID,
		CategoryID:       t.CategoryID,
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
		UpdatedAt:        t.UpdatedAt,
	})
}
