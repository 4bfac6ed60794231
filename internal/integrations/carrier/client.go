package carrier

import (
	"context"
)

type Address struct {
	Name                        string `json:"name"`
	Phone                       string `json:"phone"`
	Email                       string `json:"email,omitempty"`
	CompanyName                 string `json:"company_name,omitempty"`
	AddressLine1                string `json:"address_line1"`
	AddressLine2                string `json:"address_line2,omitempty"`
	CityLocality                string `json:"city_locality"`
	StateProvince               string `json:"state_province"`
	PostalCode                  string `json:"postal_code"`
	CountryCode                 string `json:"country_code"`
	AddressResidentialIndicator string `json:"address_residential_indicator,omitempty"`
}

type Weight struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

type Dimensions struct {
	Unit   string  `json:"unit"`
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Package: одна посылка; LabelMessages печатаются на этикетке (reference1..3).
type Package struct {
	Weight        Weight
	Dimensions    Dimensions
	LabelMessages [3]string
}

type LabelRequest struct {
	ServiceCode     string
	ShipFrom        Address
	ShipTo          Address
	Package         Package
	ValidateAddress string
	IsReturnLabel   bool
	LabelFormat     string
	LabelLayout     string
}

type LabelResult struct {
	LabelID        string
	TrackingNumber string
	CarrierCode    string
	URL            string
}

// LabelClient buys one shipping label. Implementations do not retry.
type LabelClient interface {
	Name() string
	CreateLabel(ctx context.Context, req LabelRequest) (LabelResult, error)
}
