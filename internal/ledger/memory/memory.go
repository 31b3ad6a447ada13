package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"cuentas/internal/core"
	"cuentas/internal/ledger"
)

// Store is an in-memory ledger used by the memory backend and by tests.
type Store struct {
	mu           sync.Mutex
	transactions []core.Transaction
	categories   map[string]core.Category
	companies    map[string]core.Company
	history      []core.HistoryEntry
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		categories: map[string]core.Category{},
		companies:  map[string]core.Company{},
	}
}

// Seed appends transactions without validation. Category names are
// resolved from known categories when missing.
func (s *Store) Seed(txs ...core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txs {
		if t.CategoryName == "" {
			t.CategoryName = s.categories[t.CategoryID].Name
		}
		s.transactions = append(s.transactions, t)
	}
}

func (s *Store) FindTransactions(_ context.Context, f ledger.Filter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.transactions {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CategoryName = s.categories[t.CategoryID].Name
	s.transactions = append(s.transactions, t)
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].ID == t.ID {
			t.CategoryName = s.categories[t.CategoryID].Name
			s.transactions[i] = t
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return core.Transaction{}, ledger.ErrNotFound
}

func (s *Store) ListRecent(_ context.Context, companyID string, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	var out []core.Transaction
	for _, t := range s.transactions {
		if t.CompanyID == companyID {
			out = append(out, t)
		}
	}
	s.mu.Unlock()

	// Pending rows without a payment date sort last, like NULLS LAST.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PaidAt, out[j].PaidAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCategories(_ context.Context, companyID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return core.Category{}, ledger.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return core.ErrEmptyCategory
	}
	if !c.Kind.Valid() {
		return core.ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
	return nil
}

func (s *Store) CompanyForUser(_ context.Context, userID string) (core.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.UserID == userID {
			return c, nil
		}
	}
	return core.Company{}, ledger.ErrNotFound
}

func (s *Store) GetCompany(_ context.Context, id string) (core.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return core.Company{}, ledger.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCompany(_ context.Context, c core.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
	return nil
}

// AppendHistory ignores entries whose ID is already recorded.
func (s *Store) AppendHistory(_ context.Context, h core.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.history {
		if existing.ID == h.ID {
			return nil
		}
	}
	s.history = append(s.history, h)
	return nil
}

// History returns a copy of the recorded history entries.
func (s *Store) History() []core.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.HistoryEntry(nil), s.history...)
}
