// Package ledger defines the ports through which the accounting code reads
// and writes persisted transactions.
package ledger

import (
	"context"
	"errors"

	"cuentas/internal/core"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// DateBasis selects which date a Filter's Range applies to.
type DateBasis int

const (
	// PaymentDate matches on the settlement date (fecha).
	PaymentDate DateBasis = iota
	// DocumentDate matches on the document date, falling back to the
	// payment date only for rows without a document date.
	DocumentDate
)

// Filter narrows FindTransactions. Nil pointers mean "any".
type Filter struct {
	CompanyID    string
	Status       *core.Status
	Range        *core.Period
	Basis        DateBasis
	SubjectToVAT *bool
}

// Matches evaluates the filter in memory. SQL adapters must agree with it.
func (f Filter) Matches(t core.Transaction) bool {
	if t.CompanyID != f.CompanyID {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.SubjectToVAT != nil && t.SubjectToVAT != *f.SubjectToVAT {
		return false
	}
	if f.Range == nil {
		return true
	}
	switch f.Basis {
	case DocumentDate:
		if t.DocumentDate != nil {
			return f.Range.Contains(*t.DocumentDate)
		}
		return t.PaidAt != nil && f.Range.Contains(*t.PaidAt)
	default:
		return t.PaidAt != nil && f.Range.Contains(*t.PaidAt)
	}
}

// Ports for outbound adapters.
type (
	// Reader is the read contract the aggregator depends on. Returned
	// transactions carry their joined category name.
	Reader interface {
		FindTransactions(ctx context.Context, f Filter) ([]core.Transaction, error)
	}

	TransactionWriter interface {
		CreateTransaction(ctx context.Context, t core.Transaction) error
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// ListRecent returns the latest transactions by payment date, newest first.
		ListRecent(ctx context.Context, companyID string, limit int) ([]core.Transaction, error)
	}

	CategoryStore interface {
		// ListCategories returns the company's categories ordered by name.
		ListCategories(ctx context.Context, companyID string) ([]core.Category, error)
		GetCategory(ctx context.Context, id string) (core.Category, error)
		CreateCategory(ctx context.Context, c core.Category) error
	}

	CompanyStore interface {
		CompanyForUser(ctx context.Context, userID string) (core.Company, error)
		GetCompany(ctx context.Context, id string) (core.Company, error)
		CreateCompany(ctx context.Context, c core.Company) error
	}

	HistoryWriter interface {
		AppendHistory(ctx context.Context, h core.HistoryEntry) error
	}

	// Store is everything a full ledger backend provides.
	Store interface {
		Reader
		TransactionWriter
		CategoryStore
		CompanyStore
		HistoryWriter
	}
)

// Ptr returns a pointer to v; handy for building filters.
func Ptr[T any](v T) *T {
	return &v
}
