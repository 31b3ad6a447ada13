package accounting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cuentas/internal/core"
	"cuentas/internal/ledger"
	"cuentas/internal/ledger/memory"
)

const company = "co-1"

var march = core.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

func at(day int) *time.Time {
	t := time.Date(2025, 3, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func net(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(dec(v)) }

func tx(id string, kind core.Kind, cat string, gross int64) core.Transaction {
	return core.Transaction{
		ID:           id,
		CompanyID:    company,
		CategoryID:   cat,
		CategoryName: "name-" + cat,
		Kind:         kind,
		Description:  id,
		Amount:       dec(gross),
		Status:       core.Completed,
		PaidAt:       at(10),
	}
}

func newAggregator(txs ...core.Transaction) *Aggregator {
	store := memory.New()
	store.Seed(txs...)
	clock := func() time.Time { return time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC) }
	return New(store, WithClock(clock), WithLocation(time.UTC))
}

func TestEndToEndExample(t *testing.T) {
	sale := tx("t1", core.Income, "sales", 119000)
	sale.SubjectToVAT = true
	sale.NetAmount = net(100000)
	sale.VATAmount = net(19000)

	rent := tx("t2", core.Expense, "rent", 50000)
	rent.NetAmount = net(50000)
	rent.VATAmount = net(0)

	a := newAggregator(sale, rent)
	ctx := context.Background()

	stmt, err := a.IncomeStatement(ctx, company, &march)
	if err != nil {
		t.Fatalf("income statement: %v", err)
	}
	if !stmt.Revenue.Total.Equal(dec(100000)) || !stmt.Expenses.Total.Equal(dec(50000)) || !stmt.NetIncome.Equal(dec(50000)) {
		t.Fatalf("unexpected statement totals: %+v", stmt)
	}

	vat, err := a.VATSummary(ctx, company, &march)
	if err != nil {
		t.Fatalf("vat summary: %v", err)
	}
	if !vat.Debit.Equal(dec(19000)) || !vat.Credit.IsZero() || !vat.Balance.Equal(dec(19000)) {
		t.Fatalf("unexpected vat summary: %+v", vat)
	}
	if !vat.Payable() {
		t.Fatalf("positive balance must be payable")
	}
}

func TestBalanceIdentities(t *testing.T) {
	var txs []core.Transaction
	cats := []string{"a", "b", "c"}
	for i := 0; i < 30; i++ {
		kind := core.Income
		if i%3 == 0 {
			kind = core.Expense
		}
		row := tx(fmt.Sprintf("t%d", i), kind, cats[i%len(cats)], int64(1000+i*137))
		row.SubjectToVAT = i%2 == 0
		if row.SubjectToVAT {
			n, v := core.DefaultTaxPolicy().Split(row.Amount, true)
			row.NetAmount = decimal.NewNullDecimal(n)
			row.VATAmount = decimal.NewNullDecimal(v)
		}
		row.PaidAt = at(1 + i%28)
		txs = append(txs, row)
	}
	a := newAggregator(txs...)

	stmt, err := a.IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !stmt.NetIncome.Equal(stmt.Revenue.Total.Sub(stmt.Expenses.Total)) {
		t.Fatalf("net income %s != %s - %s", stmt.NetIncome, stmt.Revenue.Total, stmt.Expenses.Total)
	}
	for _, sec := range []core.Section{stmt.Revenue, stmt.Expenses} {
		sum := decimal.Zero
		for _, it := range sec.Items {
			sum = sum.Add(it.Amount)
		}
		if !sum.Equal(sec.Total) {
			t.Fatalf("section total %s != items sum %s", sec.Total, sum)
		}
	}

	vat, err := a.VATSummary(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !vat.Balance.Equal(vat.Debit.Sub(vat.Credit)) {
		t.Fatalf("balance %s != %s - %s", vat.Balance, vat.Debit, vat.Credit)
	}
}

func TestNullNetFallsBackToGross(t *testing.T) {
	legacy := tx("legacy", core.Expense, "ops", 42000)
	a := newAggregator(legacy)

	stmt, err := a.IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !stmt.Expenses.Total.Equal(dec(42000)) {
		t.Fatalf("expected gross fallback 42000, got %s", stmt.Expenses.Total)
	}
}

func TestCalculateChange(t *testing.T) {
	cases := []struct {
		current, previous int64
		want              string
	}{
		{0, 0, "0"},
		{50, 0, "100"},
		{150, 100, "50"},
		{50, 100, "-50"},
		{0, 80, "-100"},
	}
	for _, tc := range cases {
		got := CalculateChange(dec(tc.current), dec(tc.previous))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("CalculateChange(%d, %d) = %s, want %s", tc.current, tc.previous, got, tc.want)
		}
	}
}

func TestSameCategorySumsIntoOneItem(t *testing.T) {
	a := newAggregator(
		tx("t1", core.Expense, "ops", 1000),
		tx("t2", core.Expense, "ops", 2500),
	)
	stmt, err := a.IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if len(stmt.Expenses.Items) != 1 {
		t.Fatalf("expected one grouped item, got %d", len(stmt.Expenses.Items))
	}
	item := stmt.Expenses.Items[0]
	if item.CategoryID != "ops" || item.CategoryName != "name-ops" || !item.Amount.Equal(dec(3500)) {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestItemsSortedDescending(t *testing.T) {
	a := newAggregator(
		tx("t1", core.Income, "small", 100),
		tx("t2", core.Income, "big", 900),
		tx("t3", core.Income, "tie-a", 500),
		tx("t4", core.Income, "tie-b", 500),
	)
	stmt, err := a.IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, it := range stmt.Revenue.Items {
		got = append(got, it.CategoryID)
	}
	want := []string{"big", "tie-a", "tie-b", "small"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestVATFallsBackToPaymentDate(t *testing.T) {
	noDoc := tx("t1", core.Expense, "ops", 11900)
	noDoc.SubjectToVAT = true
	noDoc.VATAmount = net(1900)

	// Paid in March but documented in February: belongs to February.
	docFeb := tx("t2", core.Expense, "ops", 11900)
	docFeb.SubjectToVAT = true
	docFeb.VATAmount = net(1900)
	feb := time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)
	docFeb.DocumentDate = &feb

	a := newAggregator(noDoc, docFeb)
	vat, err := a.VATSummary(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !vat.Credit.Equal(dec(1900)) {
		t.Fatalf("expected only the undocumented row in March, got credit %s", vat.Credit)
	}
	if vat.Payable() {
		t.Fatalf("negative balance is a carry-forward credit")
	}
}

func TestPendingExcludedFromStatementButNotVAT(t *testing.T) {
	paid := tx("t1", core.Income, "sales", 1000)
	pending := tx("t2", core.Income, "sales", 11900)
	pending.Status = core.Pending
	pending.PaidAt = nil
	doc := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	pending.DocumentDate = &doc
	pending.SubjectToVAT = true
	pending.VATAmount = net(1900)

	a := newAggregator(paid, pending)
	ctx := context.Background()

	stmt, err := a.IncomeStatement(ctx, company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !stmt.Revenue.Total.Equal(dec(1000)) {
		t.Fatalf("pending row leaked into income statement: %s", stmt.Revenue.Total)
	}

	dash, err := a.DashboardMetrics(ctx, company, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !dash.Income.Total.Equal(dec(1000)) {
		t.Fatalf("pending row leaked into dashboard: %s", dash.Income.Total)
	}

	vat, err := a.VATSummary(ctx, company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !vat.Debit.Equal(dec(1900)) {
		t.Fatalf("pending row must count for VAT, got debit %s", vat.Debit)
	}
}

func TestDashboardComparesWithPreviousMonth(t *testing.T) {
	febIncome := tx("t1", core.Income, "sales", 1000)
	feb := time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC)
	febIncome.PaidAt = &feb

	a := newAggregator(
		febIncome,
		tx("t2", core.Income, "sales", 1500),
		tx("t3", core.Expense, "ops", 400),
	)
	dash, err := a.DashboardMetrics(context.Background(), company, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !dash.Income.Total.Equal(dec(1500)) || !dash.Income.Change.Equal(dec(50)) {
		t.Fatalf("unexpected income trend %+v", dash.Income)
	}
	if !dash.Expenses.Total.Equal(dec(400)) || !dash.Expenses.Change.Equal(dec(100)) {
		t.Fatalf("unexpected expense trend %+v", dash.Expenses)
	}
	if !dash.NetIncome.Equal(dec(1100)) {
		t.Fatalf("unexpected net income %s", dash.NetIncome)
	}
}

func TestPeriodBoundsInclusive(t *testing.T) {
	first := tx("t1", core.Income, "sales", 10)
	first.PaidAt = &march.Start
	last := tx("t2", core.Income, "sales", 20)
	last.PaidAt = &march.End
	april := tx("t3", core.Income, "sales", 40)
	next := march.End.Add(time.Nanosecond)
	april.PaidAt = &next

	stmt, err := newAggregator(first, last, april).IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !stmt.Revenue.Total.Equal(dec(30)) {
		t.Fatalf("expected both bounds included and April excluded, got %s", stmt.Revenue.Total)
	}
}

func TestDefaultPeriodIsClockMonth(t *testing.T) {
	stmt, err := newAggregator(tx("t1", core.Income, "sales", 10)).IncomeStatement(context.Background(), company, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !stmt.Period.Start.Equal(march.Start) || !stmt.Period.End.Equal(march.End) {
		t.Fatalf("expected March, got %+v", stmt.Period)
	}
	if !stmt.Revenue.Total.Equal(dec(10)) {
		t.Fatalf("unexpected total %s", stmt.Revenue.Total)
	}
}

func TestEmptyLedgerHasEmptySections(t *testing.T) {
	stmt, err := newAggregator().IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if stmt.Revenue.Items == nil || len(stmt.Revenue.Items) != 0 || !stmt.NetIncome.IsZero() {
		t.Fatalf("expected empty non-nil sections, got %+v", stmt)
	}
}

type countingReader struct {
	calls atomic.Int32
	err   error
}

func (r *countingReader) FindTransactions(context.Context, ledger.Filter) ([]core.Transaction, error) {
	r.calls.Add(1)
	return nil, r.err
}

func TestMissingCompanyFailsBeforeQuery(t *testing.T) {
	r := &countingReader{}
	a := New(r)
	ctx := context.Background()

	if _, err := a.IncomeStatement(ctx, "  ", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := a.DashboardMetrics(ctx, "", time.Now()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := a.VATSummary(ctx, "", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := a.CategoryBreakdown(ctx, company, "OTHER", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad kind, got %v", err)
	}
	inverted := core.Period{Start: march.End, End: march.Start}
	if _, err := a.IncomeStatement(ctx, company, &inverted); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for inverted period, got %v", err)
	}
	if n := r.calls.Load(); n != 0 {
		t.Fatalf("expected no ledger queries, got %d", n)
	}
}

func TestLedgerFailureIsDataSourceError(t *testing.T) {
	storeErr := errors.New("connection refused")
	a := New(&countingReader{err: storeErr})

	_, err := a.DashboardMetrics(context.Background(), company, time.Now())
	var dsErr *DataSourceError
	if !errors.As(err, &dsErr) {
		t.Fatalf("expected DataSourceError, got %T %v", err, err)
	}
	if !errors.Is(err, storeErr) {
		t.Fatalf("store error must be reachable, got %v", err)
	}
}

func TestMalformedRowsFailAggregation(t *testing.T) {
	unknown := tx("bad-kind", "TRANSFER", "x", 100)
	negative := tx("bad-amount", core.Income, "x", 100)
	negative.NetAmount = net(-5)

	for _, row := range []core.Transaction{unknown, negative} {
		a := newAggregator(tx("ok", core.Income, "sales", 10), row)
		_, err := a.IncomeStatement(context.Background(), company, &march)
		var integrity *DataIntegrityError
		if !errors.As(err, &integrity) || integrity.TransactionID != row.ID {
			t.Fatalf("expected DataIntegrityError for %s, got %v", row.ID, err)
		}
	}

	vatRow := tx("bad-vat", "TRANSFER", "x", 100)
	vatRow.SubjectToVAT = true
	var integrity *DataIntegrityError
	if _, err := newAggregator(vatRow).VATSummary(context.Background(), company, &march); !errors.As(err, &integrity) {
		t.Fatalf("expected DataIntegrityError from VAT summary, got %v", err)
	}
}

func TestCategoryBreakdownPercent(t *testing.T) {
	a := newAggregator(
		tx("t1", core.Expense, "rent", 75000),
		tx("t2", core.Expense, "food", 25000),
		tx("t3", core.Income, "sales", 200000),
	)
	b, err := a.CategoryBreakdown(context.Background(), company, core.Expense, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Total.Equal(dec(100000)) || len(b.Items) != 2 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if !b.Items[0].Percent.Equal(dec(75)) || !b.Items[1].Percent.Equal(dec(25)) {
		t.Fatalf("unexpected percents %s, %s", b.Items[0].Percent, b.Items[1].Percent)
	}

	empty, err := newAggregator().CategoryBreakdown(context.Background(), company, core.Income, &march)
	if err != nil || len(empty.Items) != 0 || !empty.Total.IsZero() {
		t.Fatalf("expected empty breakdown, got %+v (%v)", empty, err)
	}
}

func TestSavingsRate(t *testing.T) {
	a := newAggregator(
		tx("t1", core.Income, "sales", 1000),
		tx("t2", core.Expense, "ops", 700),
	)
	sr, err := a.SavingsRate(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !sr.Rate.Equal(dec(30)) || sr.Tier != core.TierExcellent {
		t.Fatalf("unexpected savings rate %+v", sr)
	}
}

func TestOtherTenantsInvisible(t *testing.T) {
	other := tx("t1", core.Income, "sales", 999)
	other.CompanyID = "co-2"
	stmt, err := newAggregator(other).IncomeStatement(context.Background(), company, &march)
	if err != nil {
		t.Fatal(err)
	}
	if !stmt.Revenue.Total.IsZero() {
		t.Fatalf("other tenant rows leaked: %s", stmt.Revenue.Total)
	}
}
