// Package storage persists the ledger in SQLite or PostgreSQL through database/sql.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuentas/internal/core"
	"cuentas/internal/ledger"
	"cuentas/internal/log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// sqliteTime is fixed width so that TEXT comparisons order like instants.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// Repository implements ledger.Store over database/sql.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	logger  *log.Logger
}

var _ ledger.Store = (*Repository)(nil)

// Open connects to the database and applies migrations.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *log.Logger) (*Repository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if dialect == SQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer at a time; avoids SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.WithComponent(log.ComponentStorage).Info("Database ready", "dialect", string(dialect))
	return &Repository{
		db:      db,
		dialect: dialect,
		logger:  logger.WithComponent(log.ComponentStorage),
	}, nil
}

// NewSQLiteRepository opens a SQLite ledger at dbPath.
func NewSQLiteRepository(dbPath string) (*Repository, error) {
	return Open(context.Background(), SQLite, dbPath, nil)
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable; used by readiness checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (r *Repository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *Repository) timeArg(t time.Time) any {
	if r.dialect == SQLite {
		return t.UTC().Format(sqliteTime)
	}
	return t.UTC()
}

func (r *Repository) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return r.timeArg(*t)
}

// dbTime scans timestamps stored either natively or as text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{sqliteTime, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

const transactionColumns = `t.id, t.company_id, t.category_id, COALESCE(c.name, ''), t.kind, t.description,
	t.amount, t.net_amount, t.vat_amount, t.subject_to_vat, t.paid_at, t.document_date, t.status,
	t.original_currency, t.original_amount, t.exchange_rate, t.created_at, t.updated_at`

const transactionFrom = ` FROM transactions t LEFT JOIN categories c ON c.id = t.category_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		t                          core.Transaction
		kind, status, currency     string
		paid, doc, created, update dbTime
	)
	err := s.Scan(
		&t.ID, &t.CompanyID, &t.CategoryID, &t.CategoryName, &kind, &t.Description,
		&t.Amount, &t.NetAmount, &t.VATAmount, &t.SubjectToVAT, &paid, &doc, &status,
		&currency, &t.OriginalAmount, &t.ExchangeRate, &created, &update,
	)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.Kind(kind)
	t.Status = core.Status(status)
	t.OriginalCurrency = core.Currency(currency)
	t.PaidAt = paid.ptr()
	t.DocumentDate = doc.ptr()
	t.CreatedAt = created.Time
	t.UpdatedAt = update.Time
	return t, nil
}

// FindTransactions implements ledger.Reader. Rows come back in insertion order.
func (r *Repository) FindTransactions(ctx context.Context, f ledger.Filter) ([]core.Transaction, error) {
	var (
		where = []string{"t.company_id = ?"}
		args  = []any{f.CompanyID}
	)
	if f.Status != nil {
		where = append(where, "t.status = ?")
		args = append(args, string(*f.Status))
	}
	if f.SubjectToVAT != nil {
		where = append(where, "t.subject_to_vat = ?")
		args = append(args, *f.SubjectToVAT)
	}
	if f.Range != nil {
		start, end := r.timeArg(f.Range.Start), r.timeArg(f.Range.End)
		switch f.Basis {
		case ledger.DocumentDate:
			where = append(where, "((t.document_date IS NOT NULL AND t.document_date BETWEEN ? AND ?) OR (t.document_date IS NULL AND t.paid_at BETWEEN ? AND ?))")
			args = append(args, start, end, start, end)
		default:
			where = append(where, "t.paid_at BETWEEN ? AND ?")
			args = append(args, start, end)
		}
	}

	query := "SELECT " + transactionColumns + transactionFrom +
		" WHERE " + strings.Join(where, " AND ") + " ORDER BY t.created_at, t.id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	currency := t.OriginalCurrency
	if currency == "" {
		currency = core.CLP
	}

	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO transactions (
		id, company_id, category_id, kind, description, amount, net_amount, vat_amount,
		subject_to_vat, paid_at, document_date, status, original_currency, original_amount,
		exchange_rate, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.CompanyID, t.CategoryID, string(t.Kind), t.Description, t.Amount, t.NetAmount, t.VATAmount,
		t.SubjectToVAT, r.nullTimeArg(t.PaidAt), r.nullTimeArg(t.DocumentDate), string(t.Status),
		string(currency), t.OriginalAmount, t.ExchangeRate, r.timeArg(t.CreatedAt), r.timeArg(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	r.logger.DebugContext(ctx, "Transaction inserted",
		log.FieldTransactionID, t.ID,
		log.FieldCompanyID, t.CompanyID,
		log.FieldAmount, t.Amount.String())
	return nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	currency := t.OriginalCurrency
	if currency == "" {
		currency = core.CLP
	}

	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE transactions SET
		category_id = ?, kind = ?, description = ?, amount = ?, net_amount = ?, vat_amount = ?,
		subject_to_vat = ?, paid_at = ?, document_date = ?, status = ?, original_currency = ?,
		original_amount = ?, exchange_rate = ?, updated_at = ?
	WHERE id = ?`),
		t.CategoryID, string(t.Kind), t.Description, t.Amount, t.NetAmount, t.VATAmount,
		t.SubjectToVAT, r.nullTimeArg(t.PaidAt), r.nullTimeArg(t.DocumentDate), string(t.Status), string(currency),
		t.OriginalAmount, t.ExchangeRate, r.timeArg(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.rebind("SELECT "+transactionColumns+transactionFrom+" WHERE t.id = ?"), id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

func (r *Repository) ListRecent(ctx context.Context, companyID string, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + transactionColumns + transactionFrom +
		" WHERE t.company_id = ? ORDER BY (t.paid_at IS NULL), t.paid_at DESC, t.created_at DESC LIMIT ?"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) ListCategories(ctx context.Context, companyID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		"SELECT id, company_id, name, kind, account FROM categories WHERE company_id = ? ORDER BY name"), companyID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var (
			c    core.Category
			kind string
		)
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &kind, &c.Account); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Kind = core.Kind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	var (
		c    core.Category
		kind string
	)
	err := r.db.QueryRowContext(ctx, r.rebind(
		"SELECT id, company_id, name, kind, account FROM categories WHERE id = ?"), id).
		Scan(&c.ID, &c.CompanyID, &c.Name, &kind, &c.Account)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %s: %w", id, err)
	}
	c.Kind = core.Kind(kind)
	return c, nil
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return core.ErrEmptyCategory
	}
	if !c.Kind.Valid() {
		return core.ErrInvalidKind
	}
	_, err := r.db.ExecContext(ctx, r.rebind(
		"INSERT INTO categories (id, company_id, name, kind, account) VALUES (?, ?, ?, ?, ?)"),
		c.ID, c.CompanyID, c.Name, string(c.Kind), c.Account)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (r *Repository) CompanyForUser(ctx context.Context, userID string) (core.Company, error) {
	return r.getCompany(ctx, "user_id", userID)
}

func (r *Repository) GetCompany(ctx context.Context, id string) (core.Company, error) {
	return r.getCompany(ctx, "id", id)
}

func (r *Repository) getCompany(ctx context.Context, column, value string) (core.Company, error) {
	var (
		c        core.Company
		currency string
	)
	err := r.db.QueryRowContext(ctx, r.rebind(
		"SELECT id, user_id, name, currency FROM companies WHERE "+column+" = ? ORDER BY created_at LIMIT 1"), value).
		Scan(&c.ID, &c.UserID, &c.Name, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Company{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Company{}, fmt.Errorf("get company: %w", err)
	}
	c.Currency = core.Currency(currency)
	return c, nil
}

func (r *Repository) CreateCompany(ctx context.Context, c core.Company) error {
	if c.Currency == "" {
		c.Currency = core.CLP
	}
	_, err := r.db.ExecContext(ctx, r.rebind(
		"INSERT INTO companies (id, user_id, name, currency, created_at) VALUES (?, ?, ?, ?, ?)"),
		c.ID, c.UserID, c.Name, string(c.Currency), r.timeArg(time.Now()))
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (r *Repository) AppendHistory(ctx context.Context, h core.HistoryEntry) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(
		"INSERT INTO transaction_history (id, transaction_id, user_id, action, details, created_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING"),
		h.ID, h.TransactionID, h.UserID, h.Action, h.Details, r.timeArg(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// History returns the audit trail for a transaction, oldest first.
func (r *Repository) History(ctx context.Context, transactionID string) ([]core.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		"SELECT id, transaction_id, user_id, action, details, created_at FROM transaction_history WHERE transaction_id = ? ORDER BY created_at"),
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryEntry
	for rows.Next() {
		var (
			h       core.HistoryEntry
			created dbTime
		)
		if err := rows.Scan(&h.ID, &h.TransactionID, &h.UserID, &h.Action, &h.Details, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.CreatedAt = created.Time
		out = append(out, h)
	}
	return out, rows.Err()
}
