package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cuentas/internal/amqp"
	"cuentas/internal/core"
	"cuentas/internal/ledger"
	"cuentas/internal/log"
	"cuentas/internal/metrics"
)

const (
	defaultListLimit   = 50
	defaultCompanyName = "Mi Empresa"
)

// ErrValidation marks input errors. Wrapped errors keep the core sentinel
// (ErrInvalidAmount, ...) reachable through errors.Is.
var ErrValidation = errors.New("validation failed")

// Publisher sends transaction.changed events.
type Publisher interface {
	PublishTransactionChanged(ctx context.Context, msg *amqp.TransactionChangedMessage) error
}

// RateProvider returns the CLP value of one US dollar.
type RateProvider interface {
	DollarRate(ctx context.Context) (decimal.Decimal, error)
}

// Actor identifies who is writing and on behalf of which company.
type Actor struct {
	UserID    string
	CompanyID string
}

// TransactionInput is the user-supplied form of a transaction. Amounts are
// decimal strings accepting either dot or comma separators.
type TransactionInput struct {
	CategoryID       string     `json:"categoryId"`
	Kind             string     `json:"kind"`
	Description      string     `json:"description"`
	Amount           string     `json:"amount"`
	SubjectToVAT     bool       `json:"subjectToVat"`
	PaidAt           *time.Time `json:"paidAt"`
	DocumentDate     *time.Time `json:"documentDate"`
	Status           string     `json:"status"`
	OriginalCurrency string     `json:"originalCurrency"`
	OriginalAmount   string     `json:"originalAmount"`
	ExchangeRate     string     `json:"exchangeRate"`
}

// CategoryInput is the user-supplied form of a category.
type CategoryInput struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Account string `json:"account"`
}

// TransactionService is the write path of the ledger: validation, currency
// conversion, tax split, tenant provisioning and the audit trail.
type TransactionService struct {
	store     ledger.Store
	publisher Publisher
	rates     RateProvider
	policy    core.TaxPolicy
	logger    *log.Logger
	slog      *log.StructuredLogger
	now       func() time.Time
}

// NewTransactionService wires the service. publisher and rates may be nil:
// without a publisher history rows are written synchronously, without a rate
// provider USD rows must carry their exchange rate.
func NewTransactionService(store ledger.Store, publisher Publisher, rates RateProvider, policy core.TaxPolicy, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentLedger)
	return &TransactionService{
		store:     store,
		publisher: publisher,
		rates:     rates,
		policy:    policy,
		logger:    logger,
		slog:      log.NewStructuredLogger(logger),
		now:       time.Now,
	}
}

// Create validates and stores a new transaction for the actor's company,
// provisioning the company on first use.
func (s *TransactionService) Create(ctx context.Context, actor Actor, in TransactionInput) (core.Transaction, error) {
	company, err := s.companyFor(ctx, actor)
	if err != nil {
		return core.Transaction{}, err
	}
	tx, err := s.build(ctx, company.ID, in)
	if err != nil {
		return core.Transaction{}, err
	}

	now := s.now()
	tx.ID = uuid.NewString()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	err = s.store.CreateTransaction(ctx, tx)
	metrics.IncTransactionWrite(log.OpCreate, metrics.Result(err))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.slog.LogTransactionSaved(ctx, log.OpCreate, tx.CompanyID, tx.ID, string(tx.Kind), tx.Amount)

	s.publish(ctx, amqp.NewTransactionChangedMessage(tx.ID, tx.CompanyID, actor.UserID, amqp.ActionCreate, nil))
	return tx, nil
}

// Update replaces a transaction owned by the actor's company and records the
// previous version in the audit trail. Transactions of other companies are
// reported as not found.
func (s *TransactionService) Update(ctx context.Context, actor Actor, id string, in TransactionInput) (core.Transaction, error) {
	existing, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	company, err := s.store.GetCompany(ctx, actor.CompanyID)
	if err != nil {
		return core.Transaction{}, err
	}
	if company.UserID != actor.UserID || existing.CompanyID != company.ID {
		return core.Transaction{}, ledger.ErrNotFound
	}

	tx, err := s.build(ctx, company.ID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.ID = existing.ID
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = s.now()

	err = s.store.UpdateTransaction(ctx, tx)
	metrics.IncTransactionWrite(log.OpUpdate, metrics.Result(err))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.slog.LogTransactionSaved(ctx, log.OpUpdate, tx.CompanyID, tx.ID, string(tx.Kind), tx.Amount)

	// The event goes out only once the new row is committed: the worker
	// mirrors whatever it reads back, and a failed update changed nothing.
	s.recordHistory(ctx, actor.UserID, existing)
	return tx, nil
}

// List returns the company's most recent transactions, newest payment first.
func (s *TransactionService) List(ctx context.Context, companyID string, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	txs, err := s.store.ListRecent(ctx, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Categories returns the company's categories ordered by name.
func (s *TransactionService) Categories(ctx context.Context, companyID string) ([]core.Category, error) {
	cats, err := s.store.ListCategories(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// CreateCategory adds a category to the actor's company.
func (s *TransactionService) CreateCategory(ctx context.Context, actor Actor, in CategoryInput) (core.Category, error) {
	company, err := s.companyFor(ctx, actor)
	if err != nil {
		return core.Category{}, err
	}
	kind, err := core.ParseKind(in.Kind)
	if err != nil {
		return core.Category{}, invalid(err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return core.Category{}, invalid(core.ErrEmptyCategory)
	}
	account := strings.TrimSpace(in.Account)
	if account == "" {
		account = core.AccountOperational
		if kind == core.Income {
			account = core.AccountIncome
		}
	}

	c := core.Category{ID: uuid.NewString(), CompanyID: company.ID, Name: name, Kind: kind, Account: account}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return core.Category{}, fmt.Errorf("save category: %w", err)
	}
	return c, nil
}

// companyFor returns the actor's company, creating it on first use.
func (s *TransactionService) companyFor(ctx context.Context, actor Actor) (core.Company, error) {
	if strings.TrimSpace(actor.CompanyID) == "" || strings.TrimSpace(actor.UserID) == "" {
		return core.Company{}, invalid(errors.New("missing company or user"))
	}
	company, err := s.store.GetCompany(ctx, actor.CompanyID)
	if err == nil {
		if company.UserID != actor.UserID {
			return core.Company{}, ledger.ErrNotFound
		}
		return company, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return core.Company{}, fmt.Errorf("get company: %w", err)
	}

	company = core.Company{ID: actor.CompanyID, UserID: actor.UserID, Name: defaultCompanyName, Currency: core.CLP}
	if err := s.store.CreateCompany(ctx, company); err != nil {
		return core.Company{}, fmt.Errorf("create company: %w", err)
	}
	s.logger.InfoContext(ctx, "Provisioned company",
		log.FieldCompanyID, company.ID,
		log.FieldUserID, company.UserID)
	return company, nil
}

// build turns input into a validated transaction with its tax split applied.
func (s *TransactionService) build(ctx context.Context, companyID string, in TransactionInput) (core.Transaction, error) {
	kind, err := core.ParseKind(in.Kind)
	if err != nil {
		return core.Transaction{}, invalid(err)
	}
	status, err := core.ParseStatus(in.Status)
	if err != nil {
		return core.Transaction{}, invalid(err)
	}
	currency, err := core.ParseCurrency(in.OriginalCurrency)
	if err != nil {
		return core.Transaction{}, invalid(err)
	}

	categoryID := strings.TrimSpace(in.CategoryID)
	if categoryID == "" {
		return core.Transaction{}, invalid(core.ErrEmptyCategory)
	}
	category, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && category.CompanyID != companyID) {
		return core.Transaction{}, invalid(fmt.Errorf("%w: unknown category %s", core.ErrEmptyCategory, categoryID))
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get category: %w", err)
	}

	tx := core.Transaction{
		CompanyID:        companyID,
		CategoryID:       category.ID,
		CategoryName:     category.Name,
		Kind:             kind,
		Description:      strings.TrimSpace(in.Description),
		SubjectToVAT:     in.SubjectToVAT,
		PaidAt:           in.PaidAt,
		DocumentDate:     in.DocumentDate,
		Status:           status,
		OriginalCurrency: currency,
	}

	if in.OriginalAmount != "" {
		v, err := core.ParseAmount(in.OriginalAmount)
		if err != nil {
			return core.Transaction{}, invalid(fmt.Errorf("original amount: %w", err))
		}
		tx.OriginalAmount = decimal.NewNullDecimal(v)
	}
	if in.ExchangeRate != "" {
		v, err := core.ParseAmount(in.ExchangeRate)
		if err != nil {
			return core.Transaction{}, invalid(fmt.Errorf("exchange rate: %w", err))
		}
		tx.ExchangeRate = decimal.NewNullDecimal(v)
	}

	amount, err := s.amount(ctx, &tx, in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Amount = amount
	net, tax := s.policy.Split(amount, tx.SubjectToVAT)
	tx.NetAmount = decimal.NewNullDecimal(net)
	tx.VATAmount = decimal.NewNullDecimal(tax)

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, invalid(err)
	}
	return tx, nil
}

// amount resolves the gross amount in the reporting currency. A USD row
// without one is converted from its original amount, looking the rate up
// when the input does not carry it.
func (s *TransactionService) amount(ctx context.Context, tx *core.Transaction, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) != "" {
		v, err := core.ParseAmount(raw)
		if err != nil {
			return decimal.Zero, invalid(err)
		}
		return v, nil
	}
	if tx.OriginalCurrency != core.USD || !tx.OriginalAmount.Valid {
		return decimal.Zero, invalid(core.ErrInvalidAmount)
	}

	if !tx.ExchangeRate.Valid {
		if s.rates == nil {
			return decimal.Zero, invalid(errors.New("exchange rate is required for USD amounts"))
		}
		rate, err := s.rates.DollarRate(ctx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("lookup dollar rate: %w", err)
		}
		tx.ExchangeRate = decimal.NewNullDecimal(rate)
	}
	v := s.policy.Convert(tx.OriginalAmount.Decimal, tx.ExchangeRate.Decimal)
	if !v.IsPositive() {
		return decimal.Zero, invalid(core.ErrInvalidAmount)
	}
	return v, nil
}

// recordHistory stores the previous version of an updated transaction.
// Failures are logged and never surface to the caller.
func (s *TransactionService) recordHistory(ctx context.Context, userID string, previous core.Transaction) {
	snapshot, err := previous.Snapshot()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to snapshot transaction", log.FieldTransactionID, previous.ID, log.FieldError, err)
		return
	}

	if s.publisher != nil {
		msg := amqp.NewTransactionChangedMessage(previous.ID, previous.CompanyID, userID, amqp.ActionUpdate, snapshot)
		err := s.publisher.PublishTransactionChanged(ctx, msg)
		if err == nil {
			return
		}
		s.logger.WarnContext(ctx, "Publishing history event failed, writing synchronously",
			log.FieldTransactionID, previous.ID, log.FieldError, err)
	}

	entry := core.HistoryEntry{
		ID:            uuid.NewString(),
		TransactionID: previous.ID,
		UserID:        userID,
		Action:        amqp.ActionUpdate,
		Details:       string(snapshot),
		CreatedAt:     s.now(),
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write transaction history",
			log.FieldTransactionID, previous.ID, log.FieldError, err)
	}
}

func (s *TransactionService) publish(ctx context.Context, msg *amqp.TransactionChangedMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionChanged(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transaction.changed",
			log.FieldTransactionID, msg.TransactionID, log.FieldError, err)
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
