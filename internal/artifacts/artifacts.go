// Package artifacts reads the offline training outputs the estimator serves:
// the ordered feature column list and the regression model coefficients.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// NumericColumns is the number of leading non-location columns:
// square footage, bath count and bhk count, in that order.
const NumericColumns = 3

// Regressor predicts a price from an encoded feature vector.
type Regressor interface {
	Predict(x []float64) (float64, error)
}

// Set is one loaded, validated pair of artifacts. It is never mutated after Load.
type Set struct {
	Columns      []string
	Locations    []string
	Model        Regressor
	ModelID      string
	ModelVersion string
	LoadedAt     time.Time
}

type columnsFile struct {
	DataColumns []string `json:"data_columns"`
}

// LoadColumns reads a columns.json file and returns the normalized column names.
func LoadColumns(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read columns: %w", err)
	}

	var f columnsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("artifacts: decode columns %s: %w", path, err)
	}
	if len(f.DataColumns) < NumericColumns {
		return nil, fmt.Errorf("artifacts: columns %s: need at least %d columns, got %d",
			path, NumericColumns, len(f.DataColumns))
	}

	cols := make([]string, len(f.DataColumns))
	for i, c := range f.DataColumns {
		cols[i] = NormalizeName(c)
	}
	return cols, nil
}

// NormalizeName is the canonical form used for column and location matching.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LinearModel is an exported linear regression: intercept plus one coefficient per column.
type LinearModel struct {
	ModelID      string    `json:"model_id"`
	Version      string    `json:"version"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

// LoadLinearModel reads a model.json artifact. When wantSHA256 is non-empty the raw
// file must hash to it.
func LoadLinearModel(path, wantSHA256 string) (*LinearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read model: %w", err)
	}

	if wantSHA256 != "" {
		sum := sha256.Sum256(raw)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, strings.TrimSpace(wantSHA256)) {
			return nil, fmt.Errorf("artifacts: model checksum mismatch: got %s want %s", got, wantSHA256)
		}
	}

	var m LinearModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("artifacts: decode model %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *LinearModel) validate() error {
	if len(m.Coefficients) == 0 {
		return errors.New("artifacts: model has no coefficients")
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return errors.New("artifacts: model intercept is not finite")
	}
	for i, c := range m.Coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("artifacts: coefficient %d is not finite", i)
		}
	}
	return nil
}

// Predict returns intercept + coefficients . x.
func (m *LinearModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return 0, fmt.Errorf("artifacts: feature width %d does not match model width %d", len(x), len(m.Coefficients))
	}
	y := m.Intercept
	for i, v := range x {
		y += m.Coefficients[i] * v
	}
	return y, nil
}

// Load reads both artifacts and checks that they agree on the feature width.
func Load(columnsPath, modelPath, modelSHA256 string) (*Set, error) {
	cols, err := LoadColumns(columnsPath)
	if err != nil {
		return nil, err
	}
	model, err := LoadLinearModel(modelPath, modelSHA256)
	if err != nil {
		return nil, err
	}
	if len(model.Coefficients) != len(cols) {
		return nil, fmt.Errorf("artifacts: model has %d coefficients but %d columns are listed",
			len(model.Coefficients), len(cols))
	}

	return &Set{
		Columns:      cols,
		Locations:    append([]string(nil), cols[NumericColumns:]...),
		Model:        model,
		ModelID:      model.ModelID,
		ModelVersion: model.Version,
		LoadedAt:     time.Now(),
	}, nil
}
