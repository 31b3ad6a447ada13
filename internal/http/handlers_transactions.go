package http

import (
	"net/http"
	"strings"

	"cuentas/internal/auth"
	"cuentas/internal/core"
	"cuentas/internal/log"
	"cuentas/internal/services"
)

func actorFrom(r *http.Request) services.Actor {
	return services.Actor{
		UserID:    auth.SubjectFromContext(r.Context()),
		CompanyID: auth.TenantIDFromContext(r.Context()),
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r.URL.Query())
	if err != nil {
		s.writeFailure(w, r, log.OpList, err)
		return
	}
	txs, err := s.deps.Transactions.List(r.Context(), auth.TenantIDFromContext(r.Context()), limit)
	if err != nil {
		s.writeFailure(w, r, log.OpList, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in services.TransactionInput
	if err := DecodeJSON(w, r, &in); err != nil {
		s.writeFailure(w, r, log.OpCreate, err)
		return
	}
	sanitizeTransactionInput(&in)

	tx, err := s.deps.Transactions.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeFailure(w, r, log.OpCreate, err)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.writeFailure(w, r, log.OpUpdate, badRequest("transaction id is required"))
		return
	}
	var in services.TransactionInput
	if err := DecodeJSON(w, r, &in); err != nil {
		s.writeFailure(w, r, log.OpUpdate, err)
		return
	}
	sanitizeTransactionInput(&in)

	tx, err := s.deps.Transactions.Update(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeFailure(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Transactions.Categories(r.Context(), auth.TenantIDFromContext(r.Context()))
	if err != nil {
		s.writeFailure(w, r, log.OpList, err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, c := range cats {
		out = append(out, newCategoryResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in services.CategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		s.writeFailure(w, r, log.OpCreate, err)
		return
	}
	in.Name = sanitizeInput(in.Name)
	in.Account = sanitizeInput(in.Account)

	c, err := s.deps.Transactions.CreateCategory(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeFailure(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCategoryResponse(c))
}

// handleDollarRate never fails the request: an unavailable rate is reported
// as null so clients can fall back to manual entry.
func (s *Server) handleDollarRate(w http.ResponseWriter, r *http.Request) {
	resp := rateResponse{Currency: core.USD}
	if s.deps.Rates != nil {
		rate, err := s.deps.Rates.DollarRate(r.Context())
		if err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Dollar rate unavailable", log.FieldError, err)
		} else {
			resp.Rate = &rate
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func sanitizeTransactionInput(in *services.TransactionInput) {
	in.Description = sanitizeInput(in.Description)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.Amount = strings.TrimSpace(in.Amount)
	in.OriginalAmount = strings.TrimSpace(in.OriginalAmount)
	in.ExchangeRate = strings.TrimSpace(in.ExchangeRate)
}
