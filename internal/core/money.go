// Package core provides money parsing and tax handling utilities.
//
// All amounts are shopspring decimals; floats never appear in calculations.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// DefaultVATRate is the Chilean IVA rate.
var DefaultVATRate = decimal.RequireFromString("0.19")

// ParseAmount converts a user supplied decimal string into a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Returns ErrInvalidAmount for invalid formats, negative values or zero.
//
// Examples:
//
//	ParseAmount("119000")  -> 119000
//	ParseAmount("12,5")    -> 12.5
//	ParseAmount("-1")      -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// TaxPolicy splits gross amounts into net and tax portions.
type TaxPolicy struct {
	Rate   decimal.Decimal
	Places int32 // decimal places of the reporting currency
}

// DefaultTaxPolicy is 19% VAT on a currency without minor units (CLP).
func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{Rate: DefaultVATRate, Places: 0}
}

// Split returns the net and tax portions of gross. The net is rounded
// first and the tax is the remainder, so net+tax always equals gross.
func (p TaxPolicy) Split(gross decimal.Decimal, subjectToVAT bool) (net, tax decimal.Decimal) {
	if !subjectToVAT {
		return gross, decimal.Zero
	}
	net = gross.Div(decimal.NewFromInt(1).Add(p.Rate)).Round(p.Places)
	return net, gross.Sub(net)
}

// Convert turns an amount in a foreign currency into the reporting currency.
func (p TaxPolicy) Convert(original, rate decimal.Decimal) decimal.Decimal {
	return original.Mul(rate).Round(p.Places)
}
