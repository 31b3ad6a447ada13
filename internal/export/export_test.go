package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"cuentas/internal/core"
)

func sampleStatement() core.IncomeStatement {
	return core.IncomeStatement{
		Revenue: core.Section{
			Total: decimal.NewFromInt(300000),
			Items: []core.StatementItem{
				{CategoryID: "c1", CategoryName: "Ventas", Amount: decimal.NewFromInt(200000)},
				{CategoryID: "c2", CategoryName: "Asesorías", Amount: decimal.NewFromInt(100000)},
			},
		},
		Expenses: core.Section{
			Total: decimal.NewFromInt(50000),
			Items: []core.StatementItem{
				{CategoryID: "c3", CategoryName: "Arriendo", Amount: decimal.NewFromInt(50000)},
			},
		},
		NetIncome: decimal.NewFromInt(250000),
		Period:    core.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func header() Header {
	return Header{Company: "Comercial Ñuble", Currency: core.CLP, GeneratedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)}
}

func TestIncomeStatementXLSX(t *testing.T) {
	data, err := IncomeStatementXLSX(header(), sampleStatement())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != "resumen" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	cases := []struct{ sheet, cell, want string }{
		{"resumen", "B3", "Comercial Ñuble"},
		{"resumen", "B4", "2025-03"},
		{"resumen", "B8", "300000"},
		{"resumen", "B10", "250000"},
		{"ingresos", "A3", "Asesorías"},
		{"ingresos", "B2", "200000"},
		{"ingresos", "A4", "Total"},
		{"gastos", "B3", "50000"},
	}
	for _, tc := range cases {
		got, err := f.GetCellValue(tc.sheet, tc.cell)
		if err != nil {
			t.Fatalf("%s!%s: %v", tc.sheet, tc.cell, err)
		}
		if got != tc.want {
			t.Errorf("%s!%s = %q, want %q", tc.sheet, tc.cell, got, tc.want)
		}
	}
}

func TestIncomeStatementXLSXEmpty(t *testing.T) {
	stmt := core.IncomeStatement{
		Revenue:  core.Section{Items: []core.StatementItem{}},
		Expenses: core.Section{Items: []core.StatementItem{}},
		Period:   core.MonthOf(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	data, err := IncomeStatementXLSX(header(), stmt)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("ingresos", "A2"); got != "Total" {
		t.Fatalf("empty section should still carry a total row, got %q", got)
	}
}

func TestVATSummaryXLSX(t *testing.T) {
	v := core.VATSummary{
		Debit:   decimal.NewFromInt(19000),
		Credit:  decimal.NewFromInt(7600),
		Balance: decimal.NewFromInt(11400),
		Period:  core.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	data, err := VATSummaryXLSX(header(), v)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	for cell, want := range map[string]string{"B6": "19000", "B7": "7600", "B8": "11400", "B9": "A pagar"} {
		if got, _ := f.GetCellValue("iva", cell); got != want {
			t.Errorf("iva!%s = %q, want %q", cell, got, want)
		}
	}
}

func TestIncomeStatementPDF(t *testing.T) {
	data, err := IncomeStatementPDF(header(), sampleStatement())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestContentTypeAndFilename(t *testing.T) {
	if ct, ok := ContentType("pdf"); !ok || ct != ContentTypePDF {
		t.Fatalf("unexpected pdf content type %q", ct)
	}
	if _, ok := ContentType("csv"); ok {
		t.Fatalf("csv is not supported")
	}
	p := core.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if got := Filename("iva", p, FormatXLSX); got != "iva-2025-03.xlsx" {
		t.Fatalf("unexpected filename %q", got)
	}
}
