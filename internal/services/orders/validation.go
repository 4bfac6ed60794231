package orders

import (
	"reflect"
	"strings"

	"github.com/BearBump/TradeBox/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

func newValidator() *validator.Validate {
	v := validator.New()
	// ошибки ключуем json-путём, как их видит клиент
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func normalizeSubmission(p models.OrderSubmission) models.OrderSubmission {
	si := &p.ShippingInfo
	si.Name = strings.TrimSpace(si.Name)
	si.Email = strings.TrimSpace(si.Email)
	si.Phone = strings.TrimSpace(si.Phone)
	si.AddressLine1 = strings.TrimSpace(si.AddressLine1)
	si.AddressLine2 = strings.TrimSpace(si.AddressLine2)
	si.City = strings.TrimSpace(si.City)
	si.State = strings.TrimSpace(si.State)
	si.PostalCode = strings.TrimSpace(si.PostalCode)
	si.Country = strings.ToUpper(strings.TrimSpace(si.Country))

	d := &p.Device
	d.Brand = strings.TrimSpace(d.Brand)
	d.Model = strings.TrimSpace(d.Model)
	d.Storage = strings.TrimSpace(d.Storage)
	d.IMEI = strings.TrimSpace(d.IMEI)
	d.Condition = lower(d.Condition)
	d.CarrierLock = lower(d.CarrierLock)

	pm := &p.Payment
	pm.Method = lower(pm.Method)
	pm.PayPalEmail = strings.TrimSpace(pm.PayPalEmail)
	pm.VenmoHandle = strings.TrimSpace(pm.VenmoHandle)
	pm.ZelleContact = strings.TrimSpace(pm.ZelleContact)
	pm.CheckPayee = strings.TrimSpace(pm.CheckPayee)
	// статус оплаты клиент не задаёт
	pm.Status = models.PaymentStatusPending

	p.ShippingPreference = lower(p.ShippingPreference)
	p.Notes = strings.TrimSpace(p.Notes)
	return p
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *Service) validateSubmission(p models.OrderSubmission) error {
	fields := make(map[string]string)

	if err := s.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "validate submission")
		}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fieldMessage(fe)
		}
	}

	if p.Payment.Method == models.PaymentMethodPayPal && p.Payment.PayPalEmail != "" {
		if err := s.validate.Var(p.Payment.PayPalEmail, "email"); err != nil {
			fields["payment.paypalEmail"] = "must be a valid email"
		}
	}

	if !p.QuotedAmount.IsPositive() {
		fields["quotedAmount"] = "must be greater than 0"
	}

	if len(fields) > 0 {
		return &models.ValidationError{Fields: fields}
	}
	return nil
}

// fieldPath: "OrderSubmission.shippingInfo.email" -> "shippingInfo.email".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "required_if":
		return "required for this payment method"
	case "email":
		return "must be a valid email"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "numeric":
		return "must contain digits only"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
