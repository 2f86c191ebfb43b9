package dto

import (
	"encoding/json"
	"errors"
	"time"

	"fraudScoringApp/internal/domain/model"
)

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// AcceptedResponse is returned with 202 for an accepted transaction.
type AcceptedResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

func NewAcceptedResponse(a *model.Accepted) *AcceptedResponse {
	return &AcceptedResponse{Status: StatusAccepted, CorrelationID: a.CorrelationID}
}

// RejectedResponse is returned with 422 and lists every field error.
type RejectedResponse struct {
	Status string             `json:"status"`
	Detail []model.FieldError `json:"detail"`
}

func NewRejectedResponse(err *model.ValidationError) *RejectedResponse {
	return &RejectedResponse{Status: StatusRejected, Detail: err.Errors}
}

// TypeError converts a JSON type mismatch into a field-level validation
// error, so a string amount is reported like any other bad field. Any other
// decode error is returned as is.
func TypeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return err
	}
	field := typeErr.Field
	if field == "" {
		field = "body"
	}
	return &model.ValidationError{Errors: []model.FieldError{{
		Field:   field,
		Message: "must be of type " + jsonKind(typeErr.Type.Kind().String()),
	}}}
}

func jsonKind(goKind string) string {
	switch goKind {
	case "float64", "float32", "int", "int64":
		return "number"
	case "ptr":
		return "value"
	case "struct":
		return "object"
	default:
		return goKind
	}
}

// DecisionResponse is the status view of one scored transaction.
type DecisionResponse struct {
	CorrelationID    string    `json:"correlation_id"`
	TransactionID    string    `json:"transaction_id"`
	Status           string    `json:"status"`
	FraudProbability *float64  `json:"fraud_probability,omitempty"`
	IsFraud          *bool     `json:"is_fraud,omitempty"`
	Threshold        *float64  `json:"threshold,omitempty"`
	Confidence       string    `json:"confidence,omitempty"`
	ModelVersion     string    `json:"model_version,omitempty"`
	PredictionTime   time.Time `json:"prediction_time,omitempty"`
}

func FromDecisionEvent(e *model.DecisionEvent) *DecisionResponse {
	resp := &DecisionResponse{
		CorrelationID: e.CorrelationID,
		TransactionID: e.TransactionID,
		Status:        string(e.Status),
	}
	if d := e.Decision; d != nil {
		p, fraud, th := d.FraudProbability, d.IsFraud, d.Threshold
		resp.FraudProbability = &p
		resp.IsFraud = &fraud
		resp.Threshold = &th
		resp.Confidence = string(d.Confidence)
		resp.ModelVersion = d.ModelVersion
		resp.PredictionTime = d.PredictionTime
	}
	return resp
}

// ThresholdRequest is the body of PUT /admin/threshold.
type ThresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

// ThresholdResponse reports the stored threshold and the value this process
// currently serves from its cache.
type ThresholdResponse struct {
	Threshold float64   `json:"threshold"`
	UpdatedAt time.Time `json:"updated_at"`
	Cached    float64   `json:"cached"`
}

// QueueResponse describes the channel for operators.
type QueueResponse struct {
	Name   string                     `json:"name"`
	Length int64                      `json:"length"`
	Oldest []*model.QueuedTransaction `json:"oldest"`
}
