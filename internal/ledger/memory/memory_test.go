package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cuentas/internal/core"
	"cuentas/internal/ledger"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.CreateCategory(ctx, core.Category{ID: "cat", CompanyID: "co", Name: "Ventas", Kind: core.Income}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	paid := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	tx := core.Transaction{
		ID: "t1", CompanyID: "co", CategoryID: "cat", Kind: core.Income,
		Description: "Factura", Amount: decimal.NewFromInt(1000),
		Status: core.Completed, PaidAt: &paid,
	}
	if err := s.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetTransaction(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CategoryName != "Ventas" {
		t.Fatalf("expected joined category name, got %q", got.CategoryName)
	}

	got.Amount = decimal.NewFromInt(2000)
	if err := s.UpdateTransaction(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, _ := s.FindTransactions(ctx, ledger.Filter{CompanyID: "co"})
	if len(rows) != 1 || !rows[0].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected rows %+v", rows)
	}

	if _, err := s.GetTransaction(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	missing := got
	missing.ID = "missing"
	if err := s.UpdateTransaction(ctx, missing); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestStoreRejectsInvalidTransaction(t *testing.T) {
	err := New().CreateTransaction(context.Background(), core.Transaction{Kind: core.Income, Status: core.Completed})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestListRecentOrdersByPaymentDate(t *testing.T) {
	s := New()
	d := func(day int) *time.Time {
		v := time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
		return &v
	}
	s.Seed(
		core.Transaction{ID: "old", CompanyID: "co", PaidAt: d(1)},
		core.Transaction{ID: "pending", CompanyID: "co"},
		core.Transaction{ID: "new", CompanyID: "co", PaidAt: d(20)},
		core.Transaction{ID: "other", CompanyID: "co-2", PaidAt: d(25)},
	)
	rows, err := s.ListRecent(context.Background(), "co", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != "new" || rows[1].ID != "old" {
		t.Fatalf("unexpected order %+v", rows)
	}
}

func TestCompanyForUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.CompanyForUser(ctx, "u1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = s.CreateCompany(ctx, core.Company{ID: "co", UserID: "u1", Name: "Mi Empresa", Currency: core.CLP})
	c, err := s.CompanyForUser(ctx, "u1")
	if err != nil || c.ID != "co" {
		t.Fatalf("unexpected company %+v (%v)", c, err)
	}
}
