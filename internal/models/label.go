package models

import "time"

type LabelKind string

const (
	LabelKindEmail       LabelKind = "email_label"
	LabelKindKitOutbound LabelKind = "kit_outbound"
	LabelKindKitInbound  LabelKind = "kit_inbound"
	LabelKindReturn      LabelKind = "return_label"
)

// Party: сторона отправления/получения.
type Party string

const (
	PartyWarehouse Party = "warehouse"
	PartyCustomer  Party = "customer"
)

type LabelRoute struct {
	ShipFrom      Party
	ShipTo        Party
	IsReturnLabel bool
}

// LabelRoutes задаёт направление для каждого вида этикетки.
// Новый вид = новая строка здесь.
var LabelRoutes = map[LabelKind]LabelRoute{
	LabelKindKitOutbound: {ShipFrom: PartyWarehouse, ShipTo: PartyCustomer},
	LabelKindReturn:      {ShipFrom: PartyWarehouse, ShipTo: PartyCustomer},
	LabelKindKitInbound:  {ShipFrom: PartyCustomer, ShipTo: PartyWarehouse, IsReturnLabel: true},
	LabelKindEmail:       {ShipFrom: PartyCustomer, ShipTo: PartyWarehouse, IsReturnLabel: true},
}

func (k LabelKind) Route() (LabelRoute, bool) {
	r, ok := LabelRoutes[k]
	return r, ok
}

// Label is one issued shipping label. Never mutated after it is appended to an order.
type Label struct {
	Kind           LabelKind `json:"kind"`
	Provider       string    `json:"provider"`
	LabelID        string    `json:"labelId"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	CarrierCode    string    `json:"carrierCode,omitempty"`
	URL            string    `json:"url,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	Notes          string    `json:"notes,omitempty"`
}
