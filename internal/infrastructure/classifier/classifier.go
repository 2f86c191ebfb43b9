// Package classifier loads the fraud model artifact and its ordered feature list.
package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fraudScoringApp/internal/domain/useCases"
)

type featureListFile struct {
	FeatureNames []string `json:"feature_names"`
}

// LoadFeatureList reads a JSON document of the form {"feature_names": [...]}.
func LoadFeatureList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature list: %w", err)
	}

	var doc featureListFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode feature list %s: %w", path, err)
	}
	if len(doc.FeatureNames) == 0 {
		return nil, fmt.Errorf("feature list %s has no feature_names", path)
	}

	seen := make(map[string]struct{}, len(doc.FeatureNames))
	for _, name := range doc.FeatureNames {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("feature list %s contains an empty name", path)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("feature list %s repeats %q", path, name)
		}
		seen[name] = struct{}{}
	}
	return doc.FeatureNames, nil
}

// Load picks the model format from the file extension: .json is a logistic
// model, anything else a LightGBM text model.
func Load(path string) (useCases.Classifier, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadLogistic(path)
	}
	return LoadLightGBM(path)
}
