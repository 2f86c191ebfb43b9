package classifier

import (
	"fmt"

	"github.com/dmitryikh/leaves"
)

// LightGBM wraps a LightGBM binary model. Raw scores are passed through the
// model's sigmoid so Predict returns a probability.
type LightGBM struct {
	model *leaves.Ensemble
}

func LoadLightGBM(path string) (*LightGBM, error) {
	model, err := leaves.LGEnsembleFromFile(path, true)
	if err != nil {
		return nil, fmt.Errorf("load lightgbm model %s: %w", path, err)
	}
	if model.NOutputGroups() != 1 {
		return nil, fmt.Errorf("lightgbm model %s has %d output groups, want 1", path, model.NOutputGroups())
	}
	return &LightGBM{model: model}, nil
}

func (m *LightGBM) NumFeatures() int { return m.model.NFeatures() }

func (m *LightGBM) Predict(features []float64) (float64, error) {
	if len(features) != m.model.NFeatures() {
		return 0, fmt.Errorf("lightgbm: got %d features, want %d", len(features), m.model.NFeatures())
	}
	return m.model.PredictSingle(features, 0), nil
}
