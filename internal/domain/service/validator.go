package service

import (
	"errors"
	"fmt"
	"net/netip"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/useCases"
)

// Clock returns the current time. Injected so validation is deterministic in tests.
type Clock func() time.Time

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// TransactionValidator validates and normalizes raw transactions. It performs
// no I/O; the clock is its only source of nondeterminism.
type TransactionValidator struct {
	validate *validator.Validate
	now      Clock
}

// ValidatorOption configures a TransactionValidator.
type ValidatorOption func(*TransactionValidator)

// WithClock replaces the wall clock used for the future-timestamp rule.
func WithClock(clock Clock) ValidatorOption {
	return func(v *TransactionValidator) {
		v.now = clock
	}
}

func NewTransactionValidator(opts ...ValidatorOption) *TransactionValidator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so errors point at the document the caller sent.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v := &TransactionValidator{
		validate: validate,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var _ useCases.TransactionValidator = (*TransactionValidator)(nil)

// Validate runs the structural rules first and reports all of their failures
// together. The cross-field account rule and the timestamp rule only run once
// the fields they depend on passed individually.
func (v *TransactionValidator) Validate(raw *model.RawTransaction) (*model.TransactionRequest, error) {
	if raw == nil {
		return nil, &model.ValidationError{Errors: []model.FieldError{{Field: "body", Message: "transaction document is required"}}}
	}

	var fieldErrs []model.FieldError
	failed := make(map[string]bool)

	if err := v.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("validate transaction: %w", err)
		}
		for _, fe := range verrs {
			fieldErrs = append(fieldErrs, model.FieldError{Field: fe.Field(), Message: describe(fe)})
			failed[fe.Field()] = true
		}
	}

	var ts time.Time
	if !failed["timestamp"] {
		parsed, err := parseTimestamp(*raw.Timestamp)
		if err != nil {
			fieldErrs = append(fieldErrs, model.FieldError{Field: "timestamp", Message: err.Error()})
			failed["timestamp"] = true
		} else {
			ts = parsed
		}
	}

	if !failed["sender_account"] && !failed["receiver_account"] &&
		*raw.SenderAccount == *raw.ReceiverAccount {
		fieldErrs = append(fieldErrs, model.FieldError{
			Field:   "receiver_account",
			Message: "sender_account and receiver_account must differ",
		})
	}

	if !failed["timestamp"] {
		if now := v.now().UTC(); ts.After(now) {
			fieldErrs = append(fieldErrs, model.FieldError{
				Field:   "timestamp",
				Message: fmt.Sprintf("timestamp %s is in the future", ts.Format(time.RFC3339)),
			})
		}
	}

	if len(fieldErrs) > 0 {
		return nil, &model.ValidationError{Errors: fieldErrs}
	}

	return &model.TransactionRequest{
		TransactionID:    *raw.TransactionID,
		Timestamp:        ts,
		SenderAccount:    *raw.SenderAccount,
		ReceiverAccount:  *raw.ReceiverAccount,
		Amount:           *raw.Amount,
		TransactionType:  model.TransactionType(*raw.TransactionType),
		MerchantCategory: deref(raw.MerchantCategory),
		Location:         deref(raw.Location),
		DeviceUsed:       deref(raw.DeviceUsed),
		PaymentChannel:   deref(raw.PaymentChannel),
		IPAddress:        canonicalIP(*raw.IPAddress),
		DeviceHash:       *raw.DeviceHash,
		RiskSignals: model.RiskSignals{
			TimeSinceLastTransaction: copyFloat(raw.TimeSinceLastTransaction),
			SpendingDeviationScore:   copyFloat(raw.SpendingDeviationScore),
			VelocityScore:            copyFloat(raw.VelocityScore),
			GeoAnomalyScore:          copyFloat(raw.GeoAnomalyScore),
		},
	}, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "ip":
		return "must be a valid IPv4 or IPv6 address"
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, expected ISO 8601", s)
}

func canonicalIP(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
