package model

// RawTransaction is an untrusted transaction document as received at the
// ingestion boundary. Pointer fields distinguish "missing" from zero values.
type RawTransaction struct {
	TransactionID    *string  `json:"transaction_id" validate:"required,min=1"`
	Timestamp        *string  `json:"timestamp" validate:"required,min=1"`
	SenderAccount    *string  `json:"sender_account" validate:"required,min=5"`
	ReceiverAccount  *string  `json:"receiver_account" validate:"required,min=5"`
	Amount           *float64 `json:"amount" validate:"required,gt=0"`
	TransactionType  *string  `json:"transaction_type" validate:"required,oneof=transfer payment withdrawal deposit"`
	MerchantCategory *string  `json:"merchant_category"`
	Location         *string  `json:"location"`
	DeviceUsed       *string  `json:"device_used"`
	PaymentChannel   *string  `json:"payment_channel"`
	IPAddress        *string  `json:"ip_address" validate:"required,ip"`
	DeviceHash       *string  `json:"device_hash" validate:"required,min=8"`

	TimeSinceLastTransaction *float64 `json:"time_since_last_transaction,omitempty" validate:"omitempty,gte=0"`
	SpendingDeviationScore   *float64 `json:"spending_deviation_score,omitempty"`
	VelocityScore            *float64 `json:"velocity_score,omitempty"`
	GeoAnomalyScore          *float64 `json:"geo_anomaly_score,omitempty"`
}
