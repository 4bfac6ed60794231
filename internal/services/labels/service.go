package labels

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TradeBox/internal/broker/messages"
	"github.com/BearBump/TradeBox/internal/integrations/carrier"
	"github.com/BearBump/TradeBox/internal/metrics"
	"github.com/BearBump/TradeBox/internal/models"
	"github.com/BearBump/TradeBox/internal/services/orders"
	"github.com/pkg/errors"
)

const rateLimitName = "labels"

type OrderLabels interface {
	AppendLabel(ctx context.Context, orderID string, label models.Label, actor string) (*models.Order, error)
	Publish(ctx context.Context, ev messages.OrderEvent)
}

type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

type RateLimiter interface {
	AllowPerMinute(ctx context.Context, name string, limit int64) (bool, error)
}

type Config struct {
	ServiceCode        string
	Warehouse          carrier.Address
	Weight             carrier.Weight
	Dimensions         carrier.Dimensions
	ValidateAddress    string
	LabelFormat        string
	LabelLayout        string
	Timeout            time.Duration
	RateLimitPerMinute int64
}

type Service struct {
	client  carrier.LabelClient
	orders  OrderLabels
	audit   Auditor
	limiter RateLimiter
	cfg     Config
	now     func() time.Time
}

// New wires the service; limiter may be nil.
func New(client carrier.LabelClient, o OrderLabels, a Auditor, limiter RateLimiter, cfg Config) *Service {
	if cfg.ValidateAddress == "" {
		cfg.ValidateAddress = "validate_and_clean"
	}
	if cfg.LabelFormat == "" {
		cfg.LabelFormat = "pdf"
	}
	if cfg.LabelLayout == "" {
		cfg.LabelLayout = "4x6"
	}
	if cfg.Weight.Unit == "" {
		cfg.Weight = carrier.Weight{Value: 16, Unit: "ounce"}
	}
	if cfg.Dimensions.Unit == "" {
		cfg.Dimensions = carrier.Dimensions{Unit: "inch", Length: 8, Width: 6, Height: 2}
	}
	return &Service{
		client:  client,
		orders:  o,
		audit:   a,
		limiter: limiter,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BuildRequest is pure: direction comes from models.LabelRoutes.
func (s *Service) BuildRequest(order *models.Order, kind models.LabelKind) (carrier.LabelRequest, error) {
	route, ok := kind.Route()
	if !ok {
		return carrier.LabelRequest{}, models.NewValidationError("kind", "unknown label kind")
	}

	customer := customerAddress(order.ShippingInfo)
	party := func(p models.Party) carrier.Address {
		if p == models.PartyWarehouse {
			return s.cfg.Warehouse
		}
		return customer
	}

	return carrier.LabelRequest{
		ServiceCode: s.cfg.ServiceCode,
		ShipFrom:    party(route.ShipFrom),
		ShipTo:      party(route.ShipTo),
		Package: carrier.Package{
			Weight:        s.cfg.Weight,
			Dimensions:    s.cfg.Dimensions,
			LabelMessages: labelMessages(order),
		},
		ValidateAddress: s.cfg.ValidateAddress,
		IsReturnLabel:   route.IsReturnLabel,
		LabelFormat:     s.cfg.LabelFormat,
		LabelLayout:     s.cfg.LabelLayout,
	}, nil
}

func labelMessages(o *models.Order) [3]string {
	return [3]string{
		o.OrderNumber,
		strings.TrimSpace(o.Device.Model + " " + o.Device.Storage),
		strings.TrimSpace(o.Device.Condition + " " + o.Device.LockStatus()),
	}
}

func customerAddress(si models.ShippingInfo) carrier.Address {
	return carrier.Address{
		Name:                        si.Name,
		Phone:                       si.Phone,
		Email:                       si.Email,
		AddressLine1:                si.AddressLine1,
		AddressLine2:                si.AddressLine2,
		CityLocality:                si.City,
		StateProvince:               si.State,
		PostalCode:                  si.PostalCode,
		CountryCode:                 si.Country,
		AddressResidentialIndicator: "yes",
	}
}

// CreateLabel buys a label and appends it to the order. The provider is called once.
func (s *Service) CreateLabel(ctx context.Context, order *models.Order, kind models.LabelKind, actor string) (models.Label, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return models.Label{}, models.ErrActorRequired
	}
	if order == nil {
		return models.Label{}, models.NewValidationError("orderId", "required")
	}

	req, err := s.BuildRequest(order, kind)
	if err != nil {
		return models.Label{}, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.AllowPerMinute(ctx, rateLimitName, s.cfg.RateLimitPerMinute)
		if err != nil {
			// redis недоступен, операторов не блокируем
			slog.Warn("label rate limiter unavailable", "err", err)
		} else if !ok {
			return models.Label{}, models.ErrRateLimited
		}
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	res, err := s.client.CreateLabel(callCtx, req)
	if err != nil {
		err = asProviderError(s.client.Name(), err)
		metrics.LabelProviderErrorsTotal.Inc()
		slog.Error("label provider call failed",
			"order_id", order.ID,
			"order_number", order.OrderNumber,
			"kind", kind,
			"provider", s.client.Name(),
			"err", err,
		)
		s.audit.Record(ctx, models.AuditEntry{
			Actor:       actor,
			Action:      models.ActionLabelFailed,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Details: map[string]any{
				"kind":     string(kind),
				"provider": s.client.Name(),
				"error":    err.Error(),
			},
		})
		return models.Label{}, err
	}

	label := models.Label{
		Kind:           kind,
		Provider:       s.client.Name(),
		LabelID:        res.LabelID,
		TrackingNumber: res.TrackingNumber,
		CarrierCode:    res.CarrierCode,
		URL:            res.URL,
		SentAt:         s.now(),
	}

	updated, err := s.orders.AppendLabel(ctx, order.ID, label, actor)
	if err != nil {
		// этикетка куплена, но не записана: нужен ручной разбор по label_id
		slog.Error("label purchased but not recorded",
			"order_id", order.ID,
			"label_id", label.LabelID,
			"tracking_number", label.TrackingNumber,
			"err", err,
		)
		return models.Label{}, err
	}

	metrics.LabelsIssuedTotal.WithLabelValues(string(kind)).Inc()

	s.audit.Record(ctx, models.AuditEntry{
		Actor:       actor,
		Action:      models.ActionLabelCreated,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		Details: map[string]any{
			"kind":           string(kind),
			"provider":       label.Provider,
			"labelId":        label.LabelID,
			"trackingNumber": label.TrackingNumber,
		},
	})

	ev := orders.EventFor(updated, messages.OrderLabelCreated, actor)
	ev.Label = &messages.LabelInfo{
		Kind:           string(label.Kind),
		LabelID:        label.LabelID,
		TrackingNumber: label.TrackingNumber,
		CarrierCode:    label.CarrierCode,
		URL:            label.URL,
	}
	s.orders.Publish(ctx, ev)

	return label, nil
}

func asProviderError(provider string, err error) error {
	var (
		perr *models.LabelProviderError
		cerr *models.ConfigurationError
	)
	if errors.As(err, &perr) || errors.As(err, &cerr) {
		return err
	}
	return &models.LabelProviderError{Provider: provider, Err: errors.Wrapf(err, "%s call", provider)}
}
