package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BearBump/TradeBox/internal/broker/messages"
	"github.com/BearBump/TradeBox/internal/cache"
	"github.com/BearBump/TradeBox/internal/cache/rediscache"
	"github.com/BearBump/TradeBox/internal/metrics"
	"github.com/BearBump/TradeBox/internal/models"
	"github.com/BearBump/TradeBox/internal/storage/docstore"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	defaultTxMaxAttempts  = 5
	defaultRetryBaseDelay = 20 * time.Millisecond
	maxRetryDelay         = 500 * time.Millisecond
)

type NumberAllocator interface {
	Next(ctx context.Context, tx docstore.Tx) (string, error)
}

type AuditWriter interface {
	RecordTx(ctx context.Context, tx docstore.Tx, entry models.AuditEntry) error
	Record(ctx context.Context, entry models.AuditEntry)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev messages.OrderEvent) error
}

type Config struct {
	TxMaxAttempts  int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
}

type Service struct {
	store   docstore.Store
	numbers NumberAllocator
	audit   AuditWriter
	cache   cache.BytesCache
	events  EventPublisher

	cacheTTL    time.Duration
	maxAttempts int
	baseDelay   time.Duration

	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// New wires the service. cache and events may be nil.
func New(store docstore.Store, numbers NumberAllocator, audit AuditWriter, c cache.BytesCache, events EventPublisher, cfg Config) *Service {
	if cfg.TxMaxAttempts <= 0 {
		cfg.TxMaxAttempts = defaultTxMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	return &Service{
		store:       store,
		numbers:     numbers,
		audit:       audit,
		cache:       c,
		events:      events,
		cacheTTL:    cfg.CacheTTL,
		maxAttempts: cfg.TxMaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		validate:    newValidator(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func (s *Service) CreateOrder(ctx context.Context, payload models.OrderSubmission, ownerID *string) (models.CreatedOrder, error) {
	sub := normalizeSubmission(payload)
	if err := s.validateSubmission(sub); err != nil {
		return models.CreatedOrder{}, err
	}

	if ownerID != nil {
		trimmed := strings.TrimSpace(*ownerID)
		if trimmed == "" {
			ownerID = nil
		} else {
			ownerID = &trimmed
		}
	}
	actor := models.ActorGuest
	if ownerID != nil {
		actor = *ownerID
	}

	var order models.Order
	err := s.runTx(ctx, "create_order", func(ctx context.Context, tx docstore.Tx) error {
		number, err := s.numbers.Next(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now()
		order = models.Order{
			ID:                 s.newID(),
			OrderNumber:        number,
			OwnerID:            ownerID,
			CreatedAt:          now,
			UpdatedAt:          now,
			ShippingInfo:       sub.ShippingInfo,
			Device:             sub.Device,
			Payment:            sub.Payment,
			ShippingPreference: sub.ShippingPreference,
			QuotedAmount:       sub.QuotedAmount,
			Notes:              sub.Notes,
			StatusTimeline: []models.StatusEntry{
				{Status: models.StatusSubmitted, Actor: actor, Timestamp: now},
			},
			Labels: []models.Label{},
			ActivityLogs: []models.ActivityLog{
				{Actor: actor, Action: models.ActionOrderCreated, Timestamp: now},
			},
		}

		if err := tx.Create(ctx, orderRef(order.ID), order); err != nil {
			return err
		}
		if err := s.writeMirror(ctx, tx, &order); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, models.AuditEntry{
			Actor:       actor,
			Action:      models.ActionOrderCreated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Timestamp:   now,
			Details: map[string]any{
				"shippingPreference": order.ShippingPreference,
				"quotedAmount":       order.QuotedAmount.String(),
			},
		})
	})
	if err != nil {
		return models.CreatedOrder{}, err
	}

	metrics.OrdersCreatedTotal.Inc()
	slog.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "actor", actor)

	s.cacheOrder(ctx, &order)
	s.publish(ctx, EventFor(&order, messages.OrderCreated, actor))

	return models.CreatedOrder{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

// GetOrder returns (nil, nil) when the order does not exist.
func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, models.NewValidationError("id", "required")
	}

	// кэш best-effort, любая ошибка = промах
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, rediscache.OrderKey(id))
		if err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}

	var o models.Order
	found, err := s.store.Get(ctx, orderRef(id), &o)
	if err != nil {
		return nil, &models.PersistenceError{Op: "get_order", Err: err}
	}
	if !found {
		return nil, nil
	}

	s.cacheOrder(ctx, &o)
	return &o, nil
}

// ListOrders returns orders newest first; nextCursor is empty on the last page.
func (s *Service) ListOrders(ctx context.Context, limit int, cursor string) ([]models.Order, string, error) {
	return s.list(ctx, docstore.CollectionOrders, limit, cursor)
}

// ListUserOrders lists the owner's mirror collection.
func (s *Service) ListUserOrders(ctx context.Context, ownerID string, limit int, cursor string) ([]models.Order, string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, "", models.NewValidationError("userId", "required")
	}
	return s.list(ctx, docstore.UserOrders(ownerID), limit, cursor)
}

func (s *Service) list(ctx context.Context, collection string, limit int, cursor string) ([]models.Order, string, error) {
	limit = docstore.ClampLimit(limit, defaultListLimit, maxListLimit)

	snaps, err := s.store.Query(ctx, collection, docstore.Query{Limit: limit, StartAfter: cursor})
	if err != nil {
		return nil, "", &models.PersistenceError{Op: "list_orders", Err: err}
	}

	out := make([]models.Order, 0, len(snaps))
	for _, snap := range snaps {
		var o models.Order
		if err := docstore.Decode(snap.Data, &o); err != nil {
			return nil, "", &models.PersistenceError{Op: "list_orders", Err: err}
		}
		out = append(out, o)
	}

	next := ""
	if len(snaps) == limit {
		next = snaps[len(snaps)-1].ID
	}
	return out, next, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, upd models.StatusUpdate, actor string) (*models.Order, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, models.ErrActorRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, models.NewValidationError("id", "required")
	}
	upd.Status = models.OrderStatus(lower(string(upd.Status)))
	if !upd.Status.Valid() {
		return nil, models.NewValidationError("status", "unknown status")
	}
	upd.Reason = strings.TrimSpace(upd.Reason)

	var (
		order models.Order
		from  models.OrderStatus
	)
	err := s.runTx(ctx, "update_status", func(ctx context.Context, tx docstore.Tx) error {
		order = models.Order{}
		found, err := tx.Get(ctx, orderRef(id), &order)
		if err != nil {
			return err
		}
		if !found {
			return &models.NotFoundError{Kind: "order", ID: id}
		}

		from = order.CurrentStatus()
		if !models.CanTransition(from, upd.Status) {
			return &models.InvalidTransitionError{From: from, To: upd.Status}
		}

		now := s.now()
		order.StatusTimeline = append(order.StatusTimeline, models.StatusEntry{
			Status:    upd.Status,
			Actor:     actor,
			Timestamp: now,
			Reason:    upd.Reason,
		})
		logCtx := map[string]any{"from": string(from), "to": string(upd.Status)}
		if upd.Reason != "" {
			logCtx["reason"] = upd.Reason
		}
		order.ActivityLogs = append(order.ActivityLogs, models.ActivityLog{
			Actor:     actor,
			Action:    models.ActionOrderStatusUpdate,
			Timestamp: now,
			Context:   logCtx,
		})
		order.UpdatedAt = now

		fields := map[string]any{
			"statusTimeline": order.StatusTimeline,
			"activityLogs":   order.ActivityLogs,
			"updatedAt":      order.UpdatedAt,
		}
		if upd.Status == models.StatusPaid {
			order.Payment.Status = models.PaymentStatusPaid
			fields["payment"] = order.Payment
		}
		if err := tx.Merge(ctx, orderRef(id), fields); err != nil {
			return err
		}
		if err := s.writeMirror(ctx, tx, &order); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, models.AuditEntry{
			Actor:       actor,
			Action:      models.ActionOrderStatusUpdate,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Timestamp:   now,
			Details: map[string]any{
				"from":           string(from),
				"to":             string(upd.Status),
				"reason":         upd.Reason,
				"notifyCustomer": upd.NotifyCustomer,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(upd.Status)).Inc()
	slog.Info("order status updated",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"from", from,
		"to", upd.Status,
		"actor", actor,
	)

	s.invalidateOrder(ctx, order.ID)

	ev := EventFor(&order, messages.OrderStatusUpdated, actor)
	ev.PreviousStatus = string(from)
	ev.Reason = upd.Reason
	ev.NotifyCustomer = upd.NotifyCustomer
	s.publish(ctx, ev)

	return &order, nil
}

// AppendLabel appends an issued label to the order. Audit is the caller's job.
func (s *Service) AppendLabel(ctx context.Context, orderID string, label models.Label, actor string) (*models.Order, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, models.ErrActorRequired
	}

	var order models.Order
	err := s.runTx(ctx, "append_label", func(ctx context.Context, tx docstore.Tx) error {
		order = models.Order{}
		found, err := tx.Get(ctx, orderRef(orderID), &order)
		if err != nil {
			return err
		}
		if !found {
			return &models.NotFoundError{Kind: "order", ID: orderID}
		}

		now := s.now()
		order.Labels = append(order.Labels, label)
		order.ActivityLogs = append(order.ActivityLogs, models.ActivityLog{
			Actor:     actor,
			Action:    models.ActionLabelCreated,
			Timestamp: now,
			Context: map[string]any{
				"kind":           string(label.Kind),
				"labelId":        label.LabelID,
				"trackingNumber": label.TrackingNumber,
			},
		})
		order.UpdatedAt = now

		if err := tx.Merge(ctx, orderRef(orderID), map[string]any{
			"labels":       order.Labels,
			"activityLogs": order.ActivityLogs,
			"updatedAt":    order.UpdatedAt,
		}); err != nil {
			return err
		}
		return s.writeMirror(ctx, tx, &order)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateOrder(ctx, order.ID)
	return &order, nil
}

// runTx повторяет транзакцию целиком на docstore.ErrConflict с джиттером.
// Доменные ошибки из fn возвращаются как есть, остальное оборачивается в PersistenceError.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.store.RunInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if isDomainError(err) {
			return err
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return &models.PersistenceError{Op: op, Err: err}
		}

		metrics.TxConflictsTotal.WithLabelValues(op).Inc()
		if attempt == s.maxAttempts {
			break
		}
		if werr := s.wait(ctx, attempt); werr != nil {
			return &models.PersistenceError{Op: op, Err: werr}
		}
	}

	slog.Error("transaction retries exhausted", "op", op, "attempts", s.maxAttempts, "err", err)
	return &models.PersistenceError{Op: op, Err: err}
}

func (s *Service) wait(ctx context.Context, attempt int) error {
	d := s.baseDelay << (attempt - 1)
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	// full jitter
	d = time.Duration(rand.Int64N(int64(d)) + 1)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isDomainError(err error) bool {
	var (
		verr *models.ValidationError
		nerr *models.NotFoundError
		terr *models.InvalidTransitionError
	)
	return errors.As(err, &verr) ||
		errors.As(err, &nerr) ||
		errors.As(err, &terr) ||
		errors.Is(err, models.ErrActorRequired)
}

func (s *Service) writeMirror(ctx context.Context, tx docstore.Tx, o *models.Order) error {
	if o.OwnerID == nil {
		return nil
	}
	return tx.Set(ctx, docstore.Doc(docstore.UserOrders(*o.OwnerID), o.ID), o)
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func (s *Service) cacheOrder(ctx context.Context, o *models.Order) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, rediscache.OrderKey(o.ID), b, s.cacheTTL); err != nil {
		slog.Warn("order cache set failed", "order_id", o.ID, "err", err)
	}
}

// invalidateOrder сбрасывает ключ после коммита изменения. Set здесь нельзя:
// коммиты с разных инстансов могут дойти до redis в обратном порядке.
func (s *Service) invalidateOrder(ctx context.Context, id string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, rediscache.OrderKey(id)); err != nil {
		slog.Warn("order cache invalidate failed", "order_id", id, "err", err)
	}
}

// Publish is the best-effort event path used after commit.
func (s *Service) Publish(ctx context.Context, ev messages.OrderEvent) {
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev messages.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, ev); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("publish_order_event").Inc()
		slog.Warn("publish order event failed", "type", ev.Type, "order_id", ev.OrderID, "err", err)
	}
}

// EventFor builds a self-contained event from the committed order.
func EventFor(o *models.Order, typ, actor string) messages.OrderEvent {
	return messages.OrderEvent{
		EventID:            uuid.NewString(),
		Type:               typ,
		OccurredAt:         time.Now().UTC(),
		OrderID:            o.ID,
		OrderNumber:        o.OrderNumber,
		Actor:              actor,
		CustomerName:       o.ShippingInfo.Name,
		CustomerEmail:      o.ShippingInfo.Email,
		DeviceSummary:      strings.TrimSpace(o.Device.Brand + " " + o.Device.Model + " " + o.Device.Storage),
		QuotedAmount:       o.QuotedAmount.StringFixed(2),
		ShippingPreference: o.ShippingPreference,
		Status:             string(o.CurrentStatus()),
	}
}

func orderRef(id string) docstore.Ref {
	return docstore.Doc(docstore.CollectionOrders, id)
}
