package shipengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TradeBox/internal/integrations/carrier"
	"github.com/BearBump/TradeBox/internal/models"
	"github.com/pkg/errors"
)

const (
	ProviderName   = "shipengine"
	defaultBaseURL = "https://api.shipengine.com"
	labelsPath     = "/v1/labels"

	maxErrorBody = 2048
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string { return ProviderName }

type labelMessages struct {
	Reference1 string `json:"reference1,omitempty"`
	Reference2 string `json:"reference2,omitempty"`
	Reference3 string `json:"reference3,omitempty"`
}

type reqPackage struct {
	Weight        carrier.Weight     `json:"weight"`
	Dimensions    carrier.Dimensions `json:"dimensions"`
	LabelMessages labelMessages      `json:"label_messages"`
}

type reqShipment struct {
	ServiceCode     string          `json:"service_code"`
	ShipFrom        carrier.Address `json:"ship_from"`
	ShipTo          carrier.Address `json:"ship_to"`
	Packages        []reqPackage    `json:"packages"`
	ValidateAddress string          `json:"validate_address,omitempty"`
	IsReturnLabel   bool            `json:"is_return_label"`
}

type reqBody struct {
	Shipment    reqShipment `json:"shipment"`
	LabelFormat string      `json:"label_format,omitempty"`
	LabelLayout string      `json:"label_layout,omitempty"`
}

type respBody struct {
	LabelID        string `json:"label_id"`
	TrackingNumber string `json:"tracking_number"`
	CarrierCode    string `json:"carrier_code"`
	LabelDownload  struct {
		Href string `json:"href"`
		PDF  string `json:"pdf"`
	} `json:"label_download"`
}

func buildBody(req carrier.LabelRequest) reqBody {
	return reqBody{
		Shipment: reqShipment{
			ServiceCode: req.ServiceCode,
			ShipFrom:    req.ShipFrom,
			ShipTo:      req.ShipTo,
			Packages: []reqPackage{{
				Weight:     req.Package.Weight,
				Dimensions: req.Package.Dimensions,
				LabelMessages: labelMessages{
					Reference1: req.Package.LabelMessages[0],
					Reference2: req.Package.LabelMessages[1],
					Reference3: req.Package.LabelMessages[2],
				},
			}},
			ValidateAddress: req.ValidateAddress,
			IsReturnLabel:   req.IsReturnLabel,
		},
		LabelFormat: req.LabelFormat,
		LabelLayout: req.LabelLayout,
	}
}

func (c *Client) CreateLabel(ctx context.Context, req carrier.LabelRequest) (carrier.LabelResult, error) {
	if c.apiKey == "" {
		return carrier.LabelResult{}, &models.ConfigurationError{Setting: "labels.api_key"}
	}

	u, err := url.Parse(c.baseURL + labelsPath)
	if err != nil {
		return carrier.LabelResult{}, errors.Wrap(err, "parse base url")
	}

	payload, err := json.Marshal(buildBody(req))
	if err != nil {
		return carrier.LabelResult{}, errors.Wrap(err, "marshal label request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return carrier.LabelResult{}, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("API-Key", c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return carrier.LabelResult{}, &models.LabelProviderError{Provider: ProviderName, Err: errors.Wrap(err, "do request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return carrier.LabelResult{}, &models.LabelProviderError{
			Provider: ProviderName,
			Status:   resp.StatusCode,
			Body:     string(b),
		}
	}

	var rb respBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return carrier.LabelResult{}, &models.LabelProviderError{Provider: ProviderName, Status: resp.StatusCode, Err: errors.Wrap(err, "decode")}
	}
	if rb.LabelID == "" {
		return carrier.LabelResult{}, &models.LabelProviderError{Provider: ProviderName, Status: resp.StatusCode, Err: errors.New("response without label_id")}
	}

	href := rb.LabelDownload.Href
	if href == "" {
		href = rb.LabelDownload.PDF
	}
	return carrier.LabelResult{
		LabelID:        rb.LabelID,
		TrackingNumber: rb.TrackingNumber,
		CarrierCode:    rb.CarrierCode,
		URL:            href,
	}, nil
}
