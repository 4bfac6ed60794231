package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TradeBox/internal/metrics"
	"github.com/BearBump/TradeBox/internal/models"
	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Writer struct {
	store docstore.Store
	now   func() time.Time
}

func New(store docstore.Store) *Writer {
	return &Writer{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (w *Writer) prepare(entry *models.AuditEntry) docstore.Ref {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.now()
	}
	return docstore.Doc(docstore.CollectionAuditLogs, entry.ID)
}

// RecordTx пишет запись в транзакции вызывающего: откат транзакции откатывает и аудит.
func (w *Writer) RecordTx(ctx context.Context, tx docstore.Tx, entry models.AuditEntry) error {
	ref := w.prepare(&entry)
	if err := tx.Create(ctx, ref, entry); err != nil {
		return errors.Wrapf(err, "write audit %s", entry.Action)
	}
	return nil
}

// Record is the standalone path. A failed write is logged and counted, never returned.
func (w *Writer) Record(ctx context.Context, entry models.AuditEntry) {
	ref := w.prepare(&entry)
	if err := w.store.Create(ctx, ref, entry); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		slog.Error("audit write failed",
			"action", entry.Action,
			"actor", entry.Actor,
			"order_id", entry.OrderID,
			"order_number", entry.OrderNumber,
			"err", err,
		)
	}
}

// List returns entries newest first; nextCursor is empty on the last page.
func (w *Writer) List(ctx context.Context, limit int, cursor string) ([]models.AuditEntry, string, error) {
	limit = docstore.ClampLimit(limit, defaultListLimit, maxListLimit)

	snaps, err := w.store.Query(ctx, docstore.CollectionAuditLogs, docstore.Query{Limit: limit, StartAfter: cursor})
	if err != nil {
		return nil, "", errors.Wrap(err, "query audit logs")
	}

	out := make([]models.AuditEntry, 0, len(snaps))
	for _, s := range snaps {
		var e models.AuditEntry
		if err := docstore.Decode(s.Data, &e); err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}

	next := ""
	if len(snaps) == limit {
		next = snaps[len(snaps)-1].ID
	}
	return out, next, nil
}
