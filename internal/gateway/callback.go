package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// StatusPaid is the payment_status value of a settled payment.  Every other
// status is acknowledged and ignored.
const StatusPaid = "PAID"

// Amount is a payment amount in the smallest currency unit.  Gateways send it
// either as a JSON number or as a numeric string ("50000", "50000.00").
// Fractional parts other than zeros are rejected.
type Amount struct {
	Value int64
	Valid bool
}

// NewAmount returns a valid Amount.
func NewAmount(v int64) Amount { return Amount{Value: v, Valid: true} }

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return a.UnmarshalParam(s)
	}
	return a.UnmarshalParam(string(b))
}

// UnmarshalParam implements echo.BindUnmarshaler for form bodies.
func (a *Amount) UnmarshalParam(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*a = Amount{}
		return nil
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && strings.Trim(frac, "0") != "" {
		return fmt.Errorf("amount %q is not a whole number", s)
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", s, err)
	}
	*a = NewAmount(n)
	return nil
}

// MarshalJSON writes the amount as a number, or null when unset.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(a.Value, 10)), nil
}

// Callback is the payment notification posted by the gateway.  The
// correlator back to the local order is SenderInvoiceNo, which carries the
// order's public id.
type Callback struct {
	ObjectID        string `json:"object_id" form:"object_id" validate:"required"`
	ObjectType      string `json:"object_type" form:"object_type"`
	PaymentStatus   string `json:"payment_status" form:"payment_status" validate:"required"`
	PaymentAmount   Amount `json:"payment_amount" form:"payment_amount"`
	SenderInvoiceNo string `json:"sender_invoice_no" form:"sender_invoice_no" validate:"required"`
	PaymentID       string `json:"payment_id" form:"payment_id" validate:"required"`
	PaymentDate     string `json:"payment_date" form:"payment_date" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrMalformedCallback wraps every shape problem reported by Validate.
var ErrMalformedCallback = errors.New("malformed callback")

// Validate checks that every required field is present and that the payment
// date can be parsed.
func (c Callback) Validate() error {
	var missing []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
		for _, fe := range verrs {
			missing = append(missing, fe.Field())
		}
	}
	if !c.PaymentAmount.Valid {
		missing = append(missing, "PaymentAmount")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedCallback, strings.Join(missing, ", "))
	}
	if _, err := c.PaidAt(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	return nil
}

// IsPaid reports whether the notification announces a settled payment.
func (c Callback) IsPaid() bool { return c.PaymentStatus == StatusPaid }

// PaidAt parses PaymentDate.  RFC 3339 is preferred; the gateway's
// "2006-01-02 15:04:05" form is accepted as UTC.
func (c Callback) PaidAt() (time.Time, error) {
	return ParseTime(c.PaymentDate)
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04:05.000"}

// ParseTime parses a gateway timestamp in any of the accepted layouts.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised payment date %q", s)
}
