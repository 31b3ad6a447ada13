// Package accounting derives financial reports from the transaction ledger.
//
// Every report is a pure function of the rows returned by the ledger reader:
// nothing is cached or written, and no retry is attempted on read failures.
package accounting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cuentas/internal/core"
	"cuentas/internal/ledger"
	"cuentas/internal/log"
)

var hundred = decimal.NewFromInt(100)

// Aggregator builds income statements, dashboard metrics and VAT summaries.
type Aggregator struct {
	reader ledger.Reader
	now    func() time.Time
	loc    *time.Location
	logger *log.Logger
}

type Option func(*Aggregator)

// WithClock sets the source of "now" used when no period is given.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLocation sets the time zone in which calendar months are cut.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger.WithComponent(log.ComponentAccounting)
		}
	}
}

func New(reader ledger.Reader, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader: reader,
		now:    time.Now,
		loc:    time.Local,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CurrentMonth returns the calendar month containing the aggregator's "now".
func (a *Aggregator) CurrentMonth() core.Period {
	return core.MonthOf(a.now().In(a.loc))
}

// IncomeStatement groups COMPLETED transactions paid within the period by
// category. A nil period means the current month.
func (a *Aggregator) IncomeStatement(ctx context.Context, companyID string, period *core.Period) (core.IncomeStatement, error) {
	companyID, p, err := a.prepare(companyID, period)
	if err != nil {
		return core.IncomeStatement{}, err
	}
	return a.incomeStatement(ctx, companyID, p)
}

func (a *Aggregator) incomeStatement(ctx context.Context, companyID string, p core.Period) (core.IncomeStatement, error) {
	rows, err := a.find(ctx, "income statement", ledger.Filter{
		CompanyID: companyID,
		Status:    ledger.Ptr(core.Completed),
		Range:     &p,
		Basis:     ledger.PaymentDate,
	})
	if err != nil {
		return core.IncomeStatement{}, err
	}

	var revenue, expenses grouping
	for _, t := range rows {
		if err := a.check(ctx, t); err != nil {
			return core.IncomeStatement{}, err
		}
		amount := t.ReportAmount()
		if amount.IsNegative() {
			return core.IncomeStatement{}, a.integrity(ctx, t, fmt.Sprintf("negative net amount %s", amount))
		}
		if t.Kind == core.Income {
			revenue.add(t, amount)
		} else {
			expenses.add(t, amount)
		}
	}

	rev, exp := revenue.section(), expenses.section()
	return core.IncomeStatement{
		Revenue:   rev,
		Expenses:  exp,
		NetIncome: rev.Total.Sub(exp.Total),
		Period:    p,
	}, nil
}

// DashboardMetrics compares the month containing asOf with the month before.
// A zero asOf means the aggregator's "now".
func (a *Aggregator) DashboardMetrics(ctx context.Context, companyID string, asOf time.Time) (core.DashboardMetrics, error) {
	companyID, err := requireCompany(companyID)
	if err != nil {
		return core.DashboardMetrics{}, err
	}
	if asOf.IsZero() {
		asOf = a.now()
	}
	current := core.MonthOf(asOf.In(a.loc))
	previous := current.Previous()

	var cur, prev core.IncomeStatement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cur, err = a.incomeStatement(gctx, companyID, current)
		return err
	})
	g.Go(func() error {
		var err error
		prev, err = a.incomeStatement(gctx, companyID, previous)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.DashboardMetrics{}, err
	}

	return core.DashboardMetrics{
		Income: core.Trend{
			Total:  cur.Revenue.Total,
			Change: CalculateChange(cur.Revenue.Total, prev.Revenue.Total),
		},
		Expenses: core.Trend{
			Total:  cur.Expenses.Total,
			Change: CalculateChange(cur.Expenses.Total, prev.Expenses.Total),
		},
		NetIncome: cur.NetIncome,
	}, nil
}

// CalculateChange returns the percent change from previous to current.
// With no previous value the change is clamped to 100, or 0 when both are zero.
func CalculateChange(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return current.Sub(previous).Div(previous).Mul(hundred)
}

// VATSummary nets tax collected on sales against tax paid on purchases.
// Rows are bucketed by document date, falling back to the payment date, and
// pending rows are included.
func (a *Aggregator) VATSummary(ctx context.Context, companyID string, period *core.Period) (core.VATSummary, error) {
	companyID, p, err := a.prepare(companyID, period)
	if err != nil {
		return core.VATSummary{}, err
	}
	rows, err := a.find(ctx, "vat summary", ledger.Filter{
		CompanyID:    companyID,
		Range:        &p,
		Basis:        ledger.DocumentDate,
		SubjectToVAT: ledger.Ptr(true),
	})
	if err != nil {
		return core.VATSummary{}, err
	}

	debit, credit := decimal.Zero, decimal.Zero
	for _, t := range rows {
		if err := a.check(ctx, t); err != nil {
			return core.VATSummary{}, err
		}
		tax := t.TaxAmount()
		if tax.IsNegative() {
			return core.VATSummary{}, a.integrity(ctx, t, fmt.Sprintf("negative tax amount %s", tax))
		}
		if t.Kind == core.Income {
			debit = debit.Add(tax)
		} else {
			credit = credit.Add(tax)
		}
	}

	return core.VATSummary{
		Debit:   debit,
		Credit:  credit,
		Balance: debit.Sub(credit),
		Period:  p,
	}, nil
}

// CategoryBreakdown returns one side of the income statement with each
// category's share of that side's total.
func (a *Aggregator) CategoryBreakdown(ctx context.Context, companyID string, kind core.Kind, period *core.Period) (core.CategoryBreakdown, error) {
	if !kind.Valid() {
		return core.CategoryBreakdown{}, fmt.Errorf("%w: kind %q", ErrInvalidArgument, kind)
	}
	stmt, err := a.IncomeStatement(ctx, companyID, period)
	if err != nil {
		return core.CategoryBreakdown{}, err
	}

	side := stmt.Revenue
	if kind == core.Expense {
		side = stmt.Expenses
	}
	items := make([]core.CategoryShare, 0, len(side.Items))
	for _, it := range side.Items {
		items = append(items, core.CategoryShare{
			StatementItem: it,
			Percent:       core.Percent(it.Amount, side.Total),
		})
	}
	return core.CategoryBreakdown{
		Kind:   kind,
		Total:  side.Total,
		Items:  items,
		Period: stmt.Period,
	}, nil
}

// SavingsRate derives the savings rate from the period's income statement.
func (a *Aggregator) SavingsRate(ctx context.Context, companyID string, period *core.Period) (core.SavingsRate, error) {
	stmt, err := a.IncomeStatement(ctx, companyID, period)
	if err != nil {
		return core.SavingsRate{}, err
	}
	return core.NewSavingsRate(stmt.Revenue.Total, stmt.Expenses.Total), nil
}

func requireCompany(companyID string) (string, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return "", fmt.Errorf("%w: company id is required", ErrInvalidArgument)
	}
	return companyID, nil
}

func (a *Aggregator) prepare(companyID string, period *core.Period) (string, core.Period, error) {
	companyID, err := requireCompany(companyID)
	if err != nil {
		return "", core.Period{}, err
	}
	if period == nil {
		return companyID, a.CurrentMonth(), nil
	}
	if err := period.Validate(); err != nil {
		return "", core.Period{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return companyID, *period, nil
}

func (a *Aggregator) find(ctx context.Context, op string, f ledger.Filter) ([]core.Transaction, error) {
	rows, err := a.reader.FindTransactions(ctx, f)
	if err != nil {
		return nil, &DataSourceError{Op: op, Err: err}
	}
	return rows, nil
}

// check rejects rows that cannot be placed on either side of a report.
func (a *Aggregator) check(ctx context.Context, t core.Transaction) error {
	if !t.Kind.Valid() {
		return a.integrity(ctx, t, fmt.Sprintf("unknown kind %q", t.Kind))
	}
	if t.Amount.IsNegative() {
		return a.integrity(ctx, t, fmt.Sprintf("negative amount %s", t.Amount))
	}
	return nil
}

func (a *Aggregator) integrity(ctx context.Context, t core.Transaction, reason string) error {
	err := &DataIntegrityError{TransactionID: t.ID, Reason: reason}
	a.logger.ErrorContext(ctx, "Refusing malformed ledger row",
		log.FieldCompanyID, t.CompanyID,
		log.FieldTransactionID, t.ID,
		log.FieldError, err.Error())
	return err
}

// grouping accumulates per-category subtotals in first-seen order.
type grouping struct {
	items []core.StatementItem
	index map[string]int
}

func (g *grouping) add(t core.Transaction, amount decimal.Decimal) {
	if g.index == nil {
		g.index = map[string]int{}
	}
	if i, ok := g.index[t.CategoryID]; ok {
		g.items[i].Amount = g.items[i].Amount.Add(amount)
		return
	}
	g.index[t.CategoryID] = len(g.items)
	g.items = append(g.items, core.StatementItem{
		CategoryID:   t.CategoryID,
		CategoryName: t.CategoryName,
		Amount:       amount,
	})
}

func (g *grouping) section() core.Section {
	items := g.items
	if items == nil {
		items = []core.StatementItem{}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Amount.GreaterThan(items[j].Amount)
	})
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return core.Section{Total: total, Items: items}
}
