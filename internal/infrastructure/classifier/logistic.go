package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LogisticModel is a linear model with a sigmoid link, stored as JSON:
//
//	{"intercept": -3.2, "coefficients": [0.001, 2.5, ...]}
type LogisticModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

func LoadLogistic(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logistic model: %w", err)
	}

	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode logistic model %s: %w", path, err)
	}
	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("logistic model %s has no coefficients", path)
	}
	return &m, nil
}

func (m *LogisticModel) NumFeatures() int { return len(m.Coefficients) }

func (m *LogisticModel) Predict(features []float64) (float64, error) {
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("logistic: got %d features, want %d", len(features), len(m.Coefficients))
	}

	z := m.Intercept
	for i, x := range features {
		z += m.Coefficients[i] * x
	}
	if math.IsNaN(z) {
		return 0, fmt.Errorf("logistic: non-numeric activation")
	}
	return 1 / (1 + math.Exp(-z)), nil
}
