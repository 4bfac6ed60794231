package messages

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Типы событий в топике заказов.
const (
	OrderCreated       = "order.created"
	OrderStatusUpdated = "order.status_updated"
	OrderLabelCreated  = "order.label_created"
)

// OrderEvent is self-contained: the worker can render a mail without reading the order.
type OrderEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Actor       string `json:"actor"`

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`

	DeviceSummary      string `json:"device_summary,omitempty"`
	QuotedAmount       string `json:"quoted_amount,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`

	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Reason         string `json:"reason,omitempty"`
	NotifyCustomer bool   `json:"notify_customer,omitempty"`

	Label *LabelInfo `json:"label,omitempty"`
}

type LabelInfo struct {
	Kind           string `json:"kind"`
	LabelID        string `json:"label_id"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	CarrierCode    string `json:"carrier_code,omitempty"`
	URL            string `json:"url,omitempty"`
}

func (e OrderEvent) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order event")
	}
	return b, nil
}

func DecodeOrderEvent(b []byte) (OrderEvent, error) {
	var e OrderEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return OrderEvent{}, errors.Wrap(err, "unmarshal order event")
	}
	if e.Type == "" || e.OrderID == "" {
		return OrderEvent{}, errors.New("order event without type or order_id")
	}
	return e, nil
}
