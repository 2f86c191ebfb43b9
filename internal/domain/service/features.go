package service

import (
	"strings"
	"time"

	"fraudScoringApp/internal/domain/model"
)

// numericLike marks feature names imputed as 0.0 rather than 0 when absent.
var numericLike = []string{"amount", "score", "rate", "count", "frequency"}

// FeatureSource exposes the named numeric features of one transaction.
// Names that are not present are imputed by ExtractFeatures.
func FeatureSource(tx *model.TransactionRequest) map[string]float64 {
	src := map[string]float64{
		"amount": tx.Amount,
	}

	putSignal(src, "time_since_last_transaction", tx.TimeSinceLastTransaction)
	putSignal(src, "spending_deviation_score", tx.SpendingDeviationScore)
	putSignal(src, "velocity_score", tx.VelocityScore)
	putSignal(src, "geo_anomaly_score", tx.GeoAnomalyScore)

	if !tx.Timestamp.IsZero() {
		ts := tx.Timestamp.UTC()
		src["hour"] = float64(ts.Hour())
		src["day_of_week"] = float64(ts.Weekday())
		src["is_night"] = boolFeature(ts.Hour() < 6)
		src["is_weekend"] = boolFeature(ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday)
	}

	if tx.TransactionType != "" {
		src["transaction_type_"+string(tx.TransactionType)] = 1
	}
	if tx.PaymentChannel != "" {
		src["payment_channel_"+normalizeToken(tx.PaymentChannel)] = 1
	}

	return src
}

// ExtractFeatures builds the vector for names, in order. Missing names get
// the imputed value; the result always has len(names) entries.
func ExtractFeatures(names []string, src map[string]float64) []float64 {
	vec := make([]float64, len(names))
	for i, name := range names {
		if v, ok := src[name]; ok {
			vec[i] = v
			continue
		}
		vec[i] = imputedValue(name)
	}
	return vec
}

// imputedValue returns 0.0 for amount/score/rate/count/frequency-like names
// and 0 otherwise. Both are the float zero once in the vector.
func imputedValue(name string) float64 {
	for _, marker := range numericLike {
		if strings.Contains(name, marker) {
			return 0.0
		}
	}
	return 0
}

func putSignal(src map[string]float64, name string, v *float64) {
	if v != nil {
		src[name] = *v
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func normalizeToken(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
