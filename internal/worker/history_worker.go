// Package worker consumes transaction.changed events off the queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cuentas/internal/amqp"
	"cuentas/internal/core"
	"cuentas/internal/ledger"
	"cuentas/internal/log"
	"cuentas/internal/metrics"
)

// Mirror keeps an external copy of the completed transactions, grouped by
// payment year.
type Mirror interface {
	MirrorTransaction(ctx context.Context, t core.Transaction) (string, error)
	RemoveTransaction(ctx context.Context, id string, year int) error
}

// HistoryWorker records the audit trail of updated transactions and keeps
// the optional spreadsheet mirror current.
type HistoryWorker struct {
	store  ledger.Store
	mirror Mirror
	logger *log.Logger
}

// NewHistoryWorker builds a worker. mirror may be nil.
func NewHistoryWorker(store ledger.Store, mirror Mirror, logger *log.Logger) *HistoryWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &HistoryWorker{
		store:  store,
		mirror: mirror,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleTransactionChanged is an amqp.Handler. A returned error makes the
// consumer requeue the delivery, so every step is safe to repeat.
func (w *HistoryWorker) HandleTransactionChanged(ctx context.Context, msg *amqp.TransactionChangedMessage) (err error) {
	start := time.Now()
	defer func() {
		metrics.IncHistoryEvent(metrics.Result(err))
		w.logger.DebugContext(ctx, "transaction.changed handled",
			log.FieldTransactionID, msg.TransactionID,
			"action", msg.Action,
			log.FieldSuccess, err == nil,
			log.FieldDuration, time.Since(start).Milliseconds())
	}()

	if msg.Action == amqp.ActionUpdate {
		if err := w.appendHistory(ctx, msg); err != nil {
			return err
		}
	}

	if w.mirror == nil {
		return nil
	}
	current, err := w.store.GetTransaction(ctx, msg.TransactionID)
	if errors.Is(err, ledger.ErrNotFound) {
		w.logger.WarnContext(ctx, "transaction vanished before mirroring",
			log.FieldTransactionID, msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", msg.TransactionID, err)
	}
	if err := w.dropStaleRow(ctx, current, w.previousVersion(ctx, msg)); err != nil {
		return err
	}
	return w.mirrorIfCompleted(ctx, current)
}

// previousVersion decodes the pre-update snapshot carried by update events.
func (w *HistoryWorker) previousVersion(ctx context.Context, msg *amqp.TransactionChangedMessage) *core.TransactionSnapshot {
	if msg.Action != amqp.ActionUpdate || len(msg.Snapshot) == 0 {
		return nil
	}
	var snap core.TransactionSnapshot
	if err := json.Unmarshal(msg.Snapshot, &snap); err != nil {
		w.logger.WarnContext(ctx, "undecodable snapshot, old mirror row kept",
			log.FieldTransactionID, msg.TransactionID, log.FieldError, err)
		return nil
	}
	return &snap
}

// dropStaleRow clears the row of the previous version when the current one
// no longer belongs in the same year tab.
func (w *HistoryWorker) dropStaleRow(ctx context.Context, current core.Transaction, previous *core.TransactionSnapshot) error {
	if previous == nil || previous.Status != core.Completed || previous.PaidAt == nil {
		return nil
	}
	year := previous.PaidAt.Year()
	if current.Status == core.Completed && current.PaidAt != nil && current.PaidAt.Year() == year {
		return nil
	}
	if err := w.mirror.RemoveTransaction(ctx, current.ID, year); err != nil {
		return fmt.Errorf("clear mirrored transaction %s: %w", current.ID, err)
	}
	return nil
}

func (w *HistoryWorker) appendHistory(ctx context.Context, msg *amqp.TransactionChangedMessage) error {
	entry := core.HistoryEntry{
		ID:            historyID(msg),
		TransactionID: msg.TransactionID,
		UserID:        msg.UserID,
		Action:        msg.Action,
		Details:       string(msg.Snapshot),
		CreatedAt:     msg.Timestamp,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := w.store.AppendHistory(ctx, entry); err != nil {
		w.logger.ErrorContext(ctx, "failed to write transaction history",
			log.FieldTransactionID, msg.TransactionID, log.FieldError, err)
		return fmt.Errorf("append history: %w", err)
	}
	w.logger.InfoContext(ctx, "transaction history recorded",
		log.FieldTransactionID, msg.TransactionID,
		log.FieldUserID, msg.UserID)
	return nil
}

func (w *HistoryWorker) mirrorIfCompleted(ctx context.Context, t core.Transaction) error {
	if t.Status != core.Completed || t.PaidAt == nil {
		return nil
	}
	if _, err := w.mirror.MirrorTransaction(ctx, t); err != nil {
		return fmt.Errorf("mirror transaction %s: %w", t.ID, err)
	}
	return nil
}

// Backfill mirrors every completed transaction of a company in period.
// It recovers rows whose events were lost while the worker was down.
func (w *HistoryWorker) Backfill(ctx context.Context, companyID string, period core.Period) (int, error) {
	if w.mirror == nil {
		return 0, errors.New("no mirror configured")
	}
	txs, err := w.store.FindTransactions(ctx, ledger.Filter{
		CompanyID: companyID,
		Status:    ledger.Ptr(core.Completed),
		Range:     &period,
	})
	if err != nil {
		return 0, fmt.Errorf("find transactions: %w", err)
	}

	synced, failed := 0, 0
	for _, t := range txs {
		if err := w.mirrorIfCompleted(ctx, t); err != nil {
			w.logger.ErrorContext(ctx, "backfill failed for transaction",
				log.FieldTransactionID, t.ID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "backfill completed",
		log.FieldCompanyID, companyID,
		log.FieldPeriod, period.Label(),
		"total", len(txs),
		"synced", synced,
		"errors", failed)
	if failed > 0 {
		return synced, fmt.Errorf("%d transactions failed to mirror", failed)
	}
	return synced, nil
}

// historyID is stable across redeliveries of the same event.
func historyID(msg *amqp.TransactionChangedMessage) string {
	key := msg.TransactionID + "|" + msg.Timestamp.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
