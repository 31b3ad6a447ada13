package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cuentas/internal/core"
	"cuentas/internal/ledger"
	"cuentas/internal/ledger/memory"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "cuentas.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func day(m time.Month, d int) *time.Time {
	v := time.Date(2025, m, d, 15, 30, 0, 0, time.UTC)
	return &v
}

func fixtures() []core.Transaction {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, id string, kind core.Kind, gross int64, status core.Status, paid, doc *time.Time, vat bool) core.Transaction {
		t := core.Transaction{
			ID:               id,
			CompanyID:        "co",
			CategoryID:       "cat-" + string(kind),
			Kind:             kind,
			Description:      "row " + id,
			Amount:           decimal.NewFromInt(gross),
			SubjectToVAT:     vat,
			PaidAt:           paid,
			DocumentDate:     doc,
			Status:           status,
			OriginalCurrency: core.CLP,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		if vat {
			n, tax := core.DefaultTaxPolicy().Split(t.Amount, true)
			t.NetAmount = decimal.NewNullDecimal(n)
			t.VATAmount = decimal.NewNullDecimal(tax)
		}
		return t
	}
	return []core.Transaction{
		mk(0, "a", core.Income, 119000, core.Completed, day(3, 1), nil, true),
		mk(1, "b", core.Expense, 50000, core.Completed, day(3, 31), nil, false),
		mk(2, "c", core.Expense, 11900, core.Pending, nil, day(3, 5), true),
		mk(3, "d", core.Income, 2380, core.Completed, day(3, 2), day(2, 27), true),
		mk(4, "e", core.Income, 1000, core.Completed, day(2, 28), nil, false),
		mk(5, "f", core.Expense, 23800, core.Completed, day(4, 1), day(3, 30), true),
	}
}

func seed(t *testing.T, repo *Repository, mem *memory.Store) {
	t.Helper()
	ctx := context.Background()
	if err := repo.CreateCompany(ctx, core.Company{ID: "co", UserID: "u1", Name: "Mi Empresa"}); err != nil {
		t.Fatalf("create company: %v", err)
	}
	for _, c := range []core.Category{
		{ID: "cat-INGRESO", CompanyID: "co", Name: "Ventas", Kind: core.Income, Account: core.AccountIncome},
		{ID: "cat-GASTO", CompanyID: "co", Name: "Arriendo", Kind: core.Expense, Account: core.AccountOperational},
	} {
		if err := repo.CreateCategory(ctx, c); err != nil {
			t.Fatalf("create category: %v", err)
		}
		_ = mem.CreateCategory(ctx, c)
	}
	for _, tx := range fixtures() {
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create %s: %v", tx.ID, err)
		}
		if err := mem.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("memory create %s: %v", tx.ID, err)
		}
	}
}

func ids(txs []core.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.ID)
	}
	return out
}

func TestFindTransactionsMatchesMemoryFilter(t *testing.T) {
	repo := newTestRepo(t)
	mem := memory.New()
	seed(t, repo, mem)

	march := core.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	santiago, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	marchSantiago := core.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, santiago))

	filters := map[string]ledger.Filter{
		"all":                 {CompanyID: "co"},
		"other company":       {CompanyID: "nope"},
		"income statement":    {CompanyID: "co", Status: ledger.Ptr(core.Completed), Range: &march},
		"vat by document":     {CompanyID: "co", Range: &march, Basis: ledger.DocumentDate, SubjectToVAT: ledger.Ptr(true)},
		"pending only":        {CompanyID: "co", Status: ledger.Ptr(core.Pending)},
		"exempt":              {CompanyID: "co", SubjectToVAT: ledger.Ptr(false)},
		"month in other zone": {CompanyID: "co", Status: ledger.Ptr(core.Completed), Range: &marchSantiago},
	}
	ctx := context.Background()
	for name, f := range filters {
		t.Run(name, func(t *testing.T) {
			got, err := repo.FindTransactions(ctx, f)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			want, _ := mem.FindTransactions(ctx, f)
			g, w := ids(got), ids(want)
			if len(g) != len(w) {
				t.Fatalf("expected %v, got %v", w, g)
			}
			for i := range w {
				if g[i] != w[i] {
					t.Fatalf("expected %v, got %v", w, g)
				}
			}
		})
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, memory.New())
	ctx := context.Background()

	got, err := repo.GetTransaction(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CategoryName != "Ventas" {
		t.Fatalf("expected joined category name, got %q", got.CategoryName)
	}
	if !got.Amount.Equal(decimal.NewFromInt(119000)) || !got.NetAmount.Valid || !got.NetAmount.Decimal.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("unexpected amounts %+v", got)
	}
	if got.PaidAt == nil || !got.PaidAt.Equal(*day(3, 1)) || got.DocumentDate != nil {
		t.Fatalf("unexpected dates paid=%v doc=%v", got.PaidAt, got.DocumentDate)
	}

	legacy, _ := repo.GetTransaction(ctx, "b")
	if legacy.NetAmount.Valid || legacy.VATAmount.Valid {
		t.Fatalf("null amounts must stay null, got %+v", legacy)
	}

	got.Description = "edited"
	got.Status = core.Pending
	got.PaidAt = nil
	if err := repo.UpdateTransaction(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := repo.GetTransaction(ctx, "a")
	if updated.Description != "edited" || updated.PaidAt != nil || updated.Status != core.Pending {
		t.Fatalf("update not persisted: %+v", updated)
	}

	if _, err := repo.GetTransaction(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got.ID = "missing"
	if err := repo.UpdateTransaction(ctx, got); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListRecentAndCategories(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, memory.New())
	ctx := context.Background()

	recent, err := repo.ListRecent(ctx, "co", 3)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	want := []string{"f", "b", "d"}
	for i, id := range ids(recent) {
		if id != want[i] {
			t.Fatalf("expected %v, got %v", want, ids(recent))
		}
	}

	cats, err := repo.ListCategories(ctx, "co")
	if err != nil || len(cats) != 2 || cats[0].Name != "Arriendo" {
		t.Fatalf("unexpected categories %+v (%v)", cats, err)
	}
	if _, err := repo.GetCategory(ctx, "nope"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompanyAndHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.CompanyForUser(ctx, "u1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.CreateCompany(ctx, core.Company{ID: "co", UserID: "u1", Name: "Mi Empresa"}); err != nil {
		t.Fatal(err)
	}
	c, err := repo.CompanyForUser(ctx, "u1")
	if err != nil || c.ID != "co" || c.Currency != core.CLP {
		t.Fatalf("unexpected company %+v (%v)", c, err)
	}

	if err := repo.AppendHistory(ctx, core.HistoryEntry{ID: "h1", TransactionID: "a", UserID: "u1", Action: "UPDATE", Details: `{"id":"a"}`}); err != nil {
		t.Fatal(err)
	}
	hist, err := repo.History(ctx, "a")
	if err != nil || len(hist) != 1 || hist[0].Details != `{"id":"a"}` || hist[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected history %+v (%v)", hist, err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Repository{dialect: Postgres}
	if got := pg.rebind("a = ? AND b BETWEEN ? AND ?"); got != "a = $1 AND b BETWEEN $2 AND $3" {
		t.Fatalf("unexpected rebind %q", got)
	}
	lite := &Repository{dialect: SQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite must keep ? placeholders, got %q", got)
	}
}
