package models

import "time"

const (
	ActionOrderCreated      = "order.created"
	ActionOrderStatusUpdate = "order.status.update"
	ActionLabelCreated      = "order.label.created"
	ActionLabelFailed       = "order.label.failed"
	ActionMailSent          = "mail.sent"
	ActionMailFailed        = "mail.failed"
)

type AuditEntry struct {
	ID          string         `json:"id"`
	Actor       string         `json:"actor"`
	Action      string         `json:"action"`
	OrderID     string         `json:"orderId,omitempty"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

type Mail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}
