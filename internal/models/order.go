package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Состояние устройства, как его оценил клиент.
const (
	ConditionFlawless = "flawless"
	ConditionGood     = "good"
	ConditionFair     = "fair"
	ConditionPoor     = "poor"
)

const (
	CarrierLockUnlocked = "unlocked"
	CarrierLockLocked   = "locked"
)

const (
	PaymentMethodPayPal = "paypal"
	PaymentMethodVenmo  = "venmo"
	PaymentMethodZelle  = "zelle"
	PaymentMethodCheck  = "check"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	ShippingPreferenceKit        = "kit"
	ShippingPreferenceEmailLabel = "email_label"
)

// Акторы, которые не являются пользователями.
const (
	ActorGuest  = "guest"
	ActorSystem = "system"
)

type ShippingInfo struct {
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,min=7,max=32"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=200"`
	AddressLine2 string `json:"addressLine2,omitempty" validate:"max=200"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state" validate:"required,max=100"`
	PostalCode   string `json:"postalCode" validate:"required,max=20"`
	Country      string `json:"country" validate:"required,len=2"`
}

type Device struct {
	Brand       string `json:"brand" validate:"required"`
	Model       string `json:"model" validate:"required"`
	Storage     string `json:"storage" validate:"required"`
	Condition   string `json:"condition" validate:"required,oneof=flawless good fair poor"`
	IMEI        string `json:"imei,omitempty" validate:"omitempty,numeric,min=14,max=16"`
	CarrierLock string `json:"carrierLock,omitempty" validate:"omitempty,oneof=unlocked locked"`
}

// LockStatus возвращает статус блокировки оператором, по умолчанию unlocked.
func (d Device) LockStatus() string {
	if d.CarrierLock == "" {
		return CarrierLockUnlocked
	}
	return d.CarrierLock
}

type Payment struct {
	Method       string `json:"method" validate:"required,oneof=paypal venmo zelle check"`
	PayPalEmail  string `json:"paypalEmail,omitempty" validate:"required_if=Method paypal"`
	VenmoHandle  string `json:"venmoHandle,omitempty" validate:"required_if=Method venmo"`
	ZelleContact string `json:"zelleContact,omitempty" validate:"required_if=Method zelle"`
	CheckPayee   string `json:"checkPayee,omitempty" validate:"required_if=Method check"`
	Status       string `json:"status,omitempty"`
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason,omitempty"`
}

type ActivityLog struct {
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

type Order struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	OwnerID     *string `json:"ownerId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ShippingInfo       ShippingInfo    `json:"shippingInfo"`
	Device             Device          `json:"device"`
	Payment            Payment         `json:"payment"`
	ShippingPreference string          `json:"shippingPreference"`
	QuotedAmount       decimal.Decimal `json:"quotedAmount"`
	Notes              string          `json:"notes,omitempty"`

	StatusTimeline []StatusEntry `json:"statusTimeline"`
	Labels         []Label       `json:"labels"`
	ActivityLogs   []ActivityLog `json:"activityLogs"`
}

// CurrentStatus: последний элемент таймлайна.
func (o *Order) CurrentStatus() OrderStatus {
	if len(o.StatusTimeline) == 0 {
		return ""
	}
	return o.StatusTimeline[len(o.StatusTimeline)-1].Status
}

// OrderSubmission is the consumer-facing submission payload.
type OrderSubmission struct {
	ShippingInfo       ShippingInfo    `json:"shippingInfo"`
	Device             Device          `json:"device"`
	Payment            Payment         `json:"payment"`
	ShippingPreference string          `json:"shippingPreference" validate:"required,oneof=kit email_label"`
	QuotedAmount       decimal.Decimal `json:"quotedAmount"`
	Notes              string          `json:"notes,omitempty" validate:"max=2000"`
}

type CreatedOrder struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

type StatusUpdate struct {
	Status         OrderStatus `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	NotifyCustomer bool        `json:"notifyCustomer,omitempty"`
}
