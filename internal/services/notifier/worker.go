package notifier

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BearBump/TradeBox/internal/broker/messages"
	"github.com/BearBump/TradeBox/internal/metrics"
	"github.com/BearBump/TradeBox/internal/models"
)

type Mailer interface {
	Configured() bool
	Send(ctx context.Context, mail models.Mail) error
}

type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

type Stats struct {
	Received  uint64 `json:"received"`
	Sent      uint64 `json:"sent"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
	Malformed uint64 `json:"malformed"`
}

type Worker struct {
	mailer Mailer
	audit  Auditor
	tpl    *templates

	received  atomic.Uint64
	sent      atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	malformed atomic.Uint64
}

func New(m Mailer, a Auditor) (*Worker, error) {
	tpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Worker{mailer: m, audit: a, tpl: tpl}, nil
}

// HandleMessage is the kafka handler. It never returns an error for a single
// bad message or failed mail, so the consumer commits and moves on.
func (w *Worker) HandleMessage(ctx context.Context, key, value []byte) error {
	ev, err := messages.DecodeOrderEvent(value)
	if err != nil {
		w.malformed.Add(1)
		slog.Warn("skip malformed order event", "key", string(key), "err", err)
		return nil
	}
	return w.Handle(ctx, ev)
}

func (w *Worker) Handle(ctx context.Context, ev messages.OrderEvent) error {
	w.received.Add(1)

	mail, name, ok, err := w.tpl.render(ev)
	if err != nil {
		w.failed.Add(1)
		slog.Error("render mail failed", "type", ev.Type, "order_id", ev.OrderID, "err", err)
		return nil
	}
	if !ok {
		w.skipped.Add(1)
		return nil
	}

	if !w.mailer.Configured() {
		w.skipped.Add(1)
		slog.Warn("smtp is not configured, mail skipped", "template", name, "order_id", ev.OrderID)
		return nil
	}
	if mail.To == "" {
		w.skipped.Add(1)
		slog.Warn("order event without customer email, mail skipped", "type", ev.Type, "order_id", ev.OrderID)
		return nil
	}

	details := map[string]any{
		"template": name,
		"to":       mail.To,
		"eventId":  ev.EventID,
	}

	if err := w.mailer.Send(ctx, mail); err != nil {
		w.failed.Add(1)
		metrics.MailSentTotal.WithLabelValues("failed").Inc()
		slog.Error("send mail failed", "template", name, "order_id", ev.OrderID, "order_number", ev.OrderNumber, "err", err)

		details["error"] = err.Error()
		w.audit.Record(ctx, models.AuditEntry{
			Actor:       models.ActorSystem,
			Action:      models.ActionMailFailed,
			OrderID:     ev.OrderID,
			OrderNumber: ev.OrderNumber,
			Details:     details,
		})
		return nil
	}

	w.sent.Add(1)
	metrics.MailSentTotal.WithLabelValues("sent").Inc()
	slog.Info("mail sent", "template", name, "order_id", ev.OrderID, "order_number", ev.OrderNumber)

	w.audit.Record(ctx, models.AuditEntry{
		Actor:       models.ActorSystem,
		Action:      models.ActionMailSent,
		OrderID:     ev.OrderID,
		OrderNumber: ev.OrderNumber,
		Details:     details,
	})
	return nil
}

func (w *Worker) Stats() Stats {
	return Stats{
		Received:  w.received.Load(),
		Sent:      w.sent.Load(),
		Skipped:   w.skipped.Load(),
		Failed:    w.failed.Load(),
		Malformed: w.malformed.Load(),
	}
}
