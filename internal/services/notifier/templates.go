package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/BearBump/TradeBox/internal/broker/messages"
	"github.com/BearBump/TradeBox/internal/models"
	"github.com/pkg/errors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	tplOrderCreated  = "order_created"
	tplStatusUpdated = "status_updated"
	tplLabelCreated  = "label_created"
)

var statusText = map[models.OrderStatus]string{
	models.StatusSubmitted:         "we received your order.",
	models.StatusKitSent:           "your shipping kit is on its way.",
	models.StatusReceived:          "your device arrived at our warehouse.",
	models.StatusInspectedOK:       "inspection passed, the quote is confirmed.",
	models.StatusInspectedMismatch: "inspection found differences from the description, we will contact you with a revised offer.",
	models.StatusPaid:              "payment has been sent.",
	models.StatusReturned:          "your device is being returned to you.",
	models.StatusClosed:            "the order is complete.",
	models.StatusCancelled:         "the order has been cancelled.",
}

type templates struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func parseTemplates() (*templates, error) {
	h, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "parse html templates")
	}
	t, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "parse text templates")
	}
	return &templates{html: h, text: t}, nil
}

type view struct {
	CustomerName       string
	OrderNumber        string
	DeviceSummary      string
	QuotedAmount       string
	ShippingPreference string
	StatusText         string
	Reason             string
	LabelURL           string
	TrackingNumber     string
}

// render решает, нужно ли письмо на событие, и собирает его.
// ok=false: событие не требует письма.
func (t *templates) render(ev messages.OrderEvent) (mail models.Mail, name string, ok bool, err error) {
	v := view{
		CustomerName:       ev.CustomerName,
		OrderNumber:        ev.OrderNumber,
		DeviceSummary:      ev.DeviceSummary,
		QuotedAmount:       ev.QuotedAmount,
		ShippingPreference: ev.ShippingPreference,
		Reason:             ev.Reason,
	}
	if v.CustomerName == "" {
		v.CustomerName = "there"
	}

	var subject string
	switch ev.Type {
	case messages.OrderCreated:
		name = tplOrderCreated
		subject = "We received your order " + ev.OrderNumber
	case messages.OrderStatusUpdated:
		if !ev.NotifyCustomer {
			return models.Mail{}, "", false, nil
		}
		name = tplStatusUpdated
		subject = "Update on your order " + ev.OrderNumber
		v.StatusText = statusText[models.OrderStatus(ev.Status)]
		if v.StatusText == "" {
			v.StatusText = "status changed to " + ev.Status + "."
		}
	case messages.OrderLabelCreated:
		if ev.Label == nil || ev.Label.Kind != string(models.LabelKindEmail) {
			return models.Mail{}, "", false, nil
		}
		name = tplLabelCreated
		subject = "Your shipping label for order " + ev.OrderNumber
		v.LabelURL = ev.Label.URL
		v.TrackingNumber = ev.Label.TrackingNumber
	default:
		return models.Mail{}, "", false, nil
	}

	var hb, tb bytes.Buffer
	if err := t.html.ExecuteTemplate(&hb, name+".html.tmpl", v); err != nil {
		return models.Mail{}, name, false, errors.Wrapf(err, "render %s html", name)
	}
	if err := t.text.ExecuteTemplate(&tb, name+".txt.tmpl", v); err != nil {
		return models.Mail{}, name, false, errors.Wrapf(err, "render %s text", name)
	}

	return models.Mail{
		To:      ev.CustomerEmail,
		Subject: subject,
		HTML:    hb.String(),
		Text:    tb.String(),
	}, name, true, nil
}
