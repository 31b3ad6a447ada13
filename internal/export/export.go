// Package export renders reports as downloadable XLSX and PDF documents.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"cuentas/internal/core"
)

const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

// Header identifies whose report is being exported.
type Header struct {
	Company     string
	Currency    core.Currency
	GeneratedAt time.Time
}

// ContentType maps an export format to its MIME type.
func ContentType(format string) (string, bool) {
	switch format {
	case FormatXLSX:
		return ContentTypeXLSX, true
	case FormatPDF:
		return ContentTypePDF, true
	}
	return "", false
}

// Filename builds a download name such as estado-resultados-2025-03.xlsx.
func Filename(report string, period core.Period, format string) string {
	return fmt.Sprintf("%s-%s.%s", report, period.Label(), format)
}

// IncomeStatementXLSX writes a summary sheet and one sheet per section.
func IncomeStatementXLSX(h Header, stmt core.IncomeStatement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary := "resumen"
	revenue := "ingresos"
	expenses := "gastos"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	for _, name := range []string{revenue, expenses} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	_ = f.SetCellValue(summary, "A1", "Estado de Resultados")
	_ = f.SetCellValue(summary, "A3", "Empresa")
	_ = f.SetCellValue(summary, "B3", h.Company)
	_ = f.SetCellValue(summary, "A4", "Periodo")
	_ = f.SetCellValue(summary, "B4", stmt.Period.Label())
	_ = f.SetCellValue(summary, "A5", "Moneda")
	_ = f.SetCellValue(summary, "B5", string(h.Currency))
	_ = f.SetCellValue(summary, "A6", "Generado")
	_ = f.SetCellValue(summary, "B6", h.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summary, "A8", "Total Ingresos")
	_ = f.SetCellValue(summary, "B8", stmt.Revenue.Total.InexactFloat64())
	_ = f.SetCellValue(summary, "A9", "Total Gastos")
	_ = f.SetCellValue(summary, "B9", stmt.Expenses.Total.InexactFloat64())
	_ = f.SetCellValue(summary, "A10", "Resultado Neto")
	_ = f.SetCellValue(summary, "B10", stmt.NetIncome.InexactFloat64())

	writeItems(f, revenue, stmt.Revenue)
	writeItems(f, expenses, stmt.Expenses)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeItems(f *excelize.File, sheet string, s core.Section) {
	_ = f.SetCellValue(sheet, "A1", "Categoría")
	_ = f.SetCellValue(sheet, "B1", "Monto")
	_ = f.SetCellValue(sheet, "C1", "%")
	for i, item := range s.Items {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), item.CategoryName)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), item.Amount.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), core.Percent(item.Amount, s.Total).Round(1).InexactFloat64())
	}
	total := len(s.Items) + 2
	_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", total), "Total")
	_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", total), s.Total.InexactFloat64())
}

// VATSummaryXLSX renders the monthly debit/credit balance.
func VATSummaryXLSX(h Header, v core.VATSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "iva"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	status := "Remanente"
	if v.Payable() {
		status = "A pagar"
	}

	_ = f.SetCellValue(sheet, "A1", "Resumen IVA")
	_ = f.SetCellValue(sheet, "A3", "Empresa")
	_ = f.SetCellValue(sheet, "B3", h.Company)
	_ = f.SetCellValue(sheet, "A4", "Periodo")
	_ = f.SetCellValue(sheet, "B4", v.Period.Label())
	_ = f.SetCellValue(sheet, "A6", "IVA Débito")
	_ = f.SetCellValue(sheet, "B6", v.Debit.InexactFloat64())
	_ = f.SetCellValue(sheet, "A7", "IVA Crédito")
	_ = f.SetCellValue(sheet, "B7", v.Credit.InexactFloat64())
	_ = f.SetCellValue(sheet, "A8", "Saldo")
	_ = f.SetCellValue(sheet, "B8", v.Balance.InexactFloat64())
	_ = f.SetCellValue(sheet, "A9", "Estado")
	_ = f.SetCellValue(sheet, "B9", status)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IncomeStatementPDF renders a single-page statement.
func IncomeStatementPDF(h Header, stmt core.IncomeStatement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, "Estado de Resultados")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Empresa: %s", h.Company)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Periodo: %s", stmt.Period.Label()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generado: %s", h.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	section := func(title string, s core.Section) {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(120, 6, tr(title), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, "Monto", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, item := range s.Items {
			pdf.CellFormat(120, 6, tr(item.CategoryName), "1", 0, "L", false, 0, "")
			pdf.CellFormat(50, 6, amount(item.Amount), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(120, 6, "Total", "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, amount(s.Total), "1", 0, "R", false, 0, "")
		pdf.Ln(10)
	}
	section("Ingresos", stmt.Revenue)
	section("Gastos", stmt.Expenses)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Resultado Neto (%s): %s", h.Currency, amount(stmt.NetIncome)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(0)
}
