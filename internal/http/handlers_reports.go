package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cuentas/internal/auth"
	"cuentas/internal/core"
	"cuentas/internal/export"
	"cuentas/internal/ledger"
	"cuentas/internal/log"
	"cuentas/internal/metrics"
)

const (
	reportIncomeStatement = "income_statement"
	reportDashboard       = "dashboard"
	reportVAT             = "vat_summary"
	reportCategories      = "category_breakdown"
	reportSavingsRate     = "savings_rate"
)

// observe runs a report and records its latency under name.
func observe[T any](name string, run func() (T, error)) (T, error) {
	start := time.Now()
	v, err := run()
	metrics.ObserveReport(name, metrics.Result(err), time.Since(start))
	return v, err
}

func (s *Server) handleIncomeStatement(w http.ResponseWriter, r *http.Request) {
	period, err := ParseRange(r.URL.Query(), s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, reportIncomeStatement, err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	stmt, err := observe(reportIncomeStatement, func() (core.IncomeStatement, error) {
		return s.deps.Reports.IncomeStatement(r.Context(), company, period)
	})
	if err != nil {
		s.writeFailure(w, r, reportIncomeStatement, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := ParseAsOf(r.URL.Query(), s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, reportDashboard, err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	m, err := observe(reportDashboard, func() (core.DashboardMetrics, error) {
		return s.deps.Reports.DashboardMetrics(r.Context(), company, asOf)
	})
	if err != nil {
		s.writeFailure(w, r, reportDashboard, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleVATSummary(w http.ResponseWriter, r *http.Request) {
	period, err := ParseMonth(r.URL.Query(), s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, reportVAT, err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	v, err := observe(reportVAT, func() (core.VATSummary, error) {
		return s.deps.Reports.VATSummary(r.Context(), company, period)
	})
	if err != nil {
		s.writeFailure(w, r, reportVAT, err)
		return
	}
	writeJSON(w, http.StatusOK, vatResponse{VATSummary: v, Payable: v.Payable()})
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := ParseKind(q)
	if err != nil {
		s.writeFailure(w, r, reportCategories, err)
		return
	}
	period, err := ParseMonth(q, s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, reportCategories, err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	b, err := observe(reportCategories, func() (core.CategoryBreakdown, error) {
		return s.deps.Reports.CategoryBreakdown(r.Context(), company, kind, period)
	})
	if err != nil {
		s.writeFailure(w, r, reportCategories, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSavingsRate(w http.ResponseWriter, r *http.Request) {
	period, err := ParseMonth(r.URL.Query(), s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, reportSavingsRate, err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	rate, err := observe(reportSavingsRate, func() (core.SavingsRate, error) {
		return s.deps.Reports.SavingsRate(r.Context(), company, period)
	})
	if err != nil {
		s.writeFailure(w, r, reportSavingsRate, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (s *Server) handleIncomeStatementExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := ParseFormat(q, export.FormatXLSX, export.FormatXLSX, export.FormatPDF)
	if err != nil {
		s.writeFailure(w, r, "export income statement", err)
		return
	}
	period, err := ParseRange(q, s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, "export income statement", err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	stmt, err := observe(reportIncomeStatement, func() (core.IncomeStatement, error) {
		return s.deps.Reports.IncomeStatement(r.Context(), company, period)
	})
	if err != nil {
		s.writeFailure(w, r, "export income statement", err)
		return
	}

	start := time.Now()
	header := s.exportHeader(r.Context(), company)
	var body []byte
	if format == export.FormatPDF {
		body, err = export.IncomeStatementPDF(header, stmt)
	} else {
		body, err = export.IncomeStatementXLSX(header, stmt)
	}
	metrics.ObserveExport(format, metrics.Result(err), time.Since(start))
	if err != nil {
		s.writeFailure(w, r, "export income statement", err)
		return
	}
	contentType, _ := export.ContentType(format)
	writeAttachment(w, contentType, export.Filename("estado-resultados", stmt.Period, format), body)
}

func (s *Server) handleVATSummaryExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := ParseFormat(q, export.FormatXLSX, export.FormatXLSX); err != nil {
		s.writeFailure(w, r, "export vat summary", err)
		return
	}
	period, err := ParseMonth(q, s.deps.Location)
	if err != nil {
		s.writeFailure(w, r, "export vat summary", err)
		return
	}
	company := auth.TenantIDFromContext(r.Context())
	v, err := observe(reportVAT, func() (core.VATSummary, error) {
		return s.deps.Reports.VATSummary(r.Context(), company, period)
	})
	if err != nil {
		s.writeFailure(w, r, "export vat summary", err)
		return
	}

	start := time.Now()
	body, err := export.VATSummaryXLSX(s.exportHeader(r.Context(), company), v)
	metrics.ObserveExport(export.FormatXLSX, metrics.Result(err), time.Since(start))
	if err != nil {
		s.writeFailure(w, r, "export vat summary", err)
		return
	}
	writeAttachment(w, export.ContentTypeXLSX, export.Filename("resumen-iva", v.Period, export.FormatXLSX), body)
}

// exportHeader names the company on the document, falling back to its id
// when the company row is missing.
func (s *Server) exportHeader(ctx context.Context, companyID string) export.Header {
	h := export.Header{
		Company:     companyID,
		Currency:    core.CLP,
		GeneratedAt: time.Now().In(s.deps.Location),
	}
	if s.deps.Companies == nil {
		return h
	}
	c, err := s.deps.Companies.GetCompany(ctx, companyID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			log.FromContext(ctx).WarnContext(ctx, "Company lookup for export failed",
				log.FieldCompanyID, companyID, log.FieldError, err)
		}
		return h
	}
	if c.Name != "" {
		h.Company = c.Name
	}
	if c.Currency != "" {
		h.Currency = c.Currency
	}
	return h
}
