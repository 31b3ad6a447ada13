package core

import "github.com/shopspring/decimal"

// StatementItem is a per-category subtotal.
type StatementItem struct {
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Amount       decimal.Decimal `json:"amount"`
}

// Section is one side of the income statement.
type Section struct {
	Total decimal.Decimal `json:"total"`
	Items []StatementItem `json:"items"`
}

type IncomeStatement struct {
	Revenue   Section         `json:"revenue"`
	Expenses  Section         `json:"expenses"`
	NetIncome decimal.Decimal `json:"netIncome"`
	Period    Period          `json:"period"`
}

// Trend compares a current total with the previous period.
type Trend struct {
	Total  decimal.Decimal `json:"total"`
	Change decimal.Decimal `json:"change"` // percent
}

type DashboardMetrics struct {
	Income    Trend           `json:"income"`
	Expenses  Trend           `json:"expenses"`
	NetIncome decimal.Decimal `json:"netIncome"`
}

// VATSummary holds tax collected on sales (debit) against tax paid on purchases (credit).
type VATSummary struct {
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`
	Period  Period          `json:"period"`
}

// Payable reports whether the tenant must remit tax for the period.
// A non-positive balance is a credit carried forward.
func (v VATSummary) Payable() bool {
	return v.Balance.IsPositive()
}

type CategoryShare struct {
	StatementItem
	Percent decimal.Decimal `json:"percent"`
}

type CategoryBreakdown struct {
	Kind   Kind            `json:"kind"`
	Total  decimal.Decimal `json:"total"`
	Items  []CategoryShare `json:"items"`
	Period Period          `json:"period"`
}

type SavingsTier string

const (
	TierExcellent    SavingsTier = "excellent"
	TierSaving       SavingsTier = "saving"
	TierBreakeven    SavingsTier = "breakeven"
	TierOverspending SavingsTier = "overspending"
)

var (
	hundred       = decimal.NewFromInt(100)
	excellentRate = decimal.NewFromInt(20)
)

type SavingsRate struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Rate     decimal.Decimal `json:"rate"`
	Clamped  decimal.Decimal `json:"clamped"`
	Tier     SavingsTier     `json:"tier"`
}

// NewSavingsRate computes (income-expenses)/income as a percentage.
// The rate is zero when there is no income.
func NewSavingsRate(income, expenses decimal.Decimal) SavingsRate {
	rate := decimal.Zero
	if income.IsPositive() {
		rate = income.Sub(expenses).Div(income).Mul(hundred)
	}

	tier := TierBreakeven
	switch {
	case rate.GreaterThanOrEqual(excellentRate):
		tier = TierExcellent
	case rate.IsPositive():
		tier = TierSaving
	case rate.IsNegative():
		tier = TierOverspending
	}

	return SavingsRate{
		Income:   income,
		Expenses: expenses,
		Rate:     rate,
		Clamped:  decimal.Min(decimal.Max(rate, hundred.Neg()), hundred),
		Tier:     tier,
	}
}

// Percent returns part/total*100, or zero when total is zero.
func Percent(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Div(total).Mul(hundred)
}
