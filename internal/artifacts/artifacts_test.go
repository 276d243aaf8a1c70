package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadColumnsNormalizes(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "columns.json", `{"data_columns":["total_sqft","bath","bhk"," Whitefield ","HEBBAL"]}`)

	cols, err := LoadColumns(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"total_sqft", "bath", "bhk", "whitefield", "hebbal"}, cols)
}

func TestLoadColumnsTooShort(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "columns.json", `{"data_columns":["total_sqft","bath"]}`)

	_, err := LoadColumns(p)
	require.Error(t, err)
}

func TestLoadColumnsMissingFile(t *testing.T) {
	_, err := LoadColumns(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadLinearModelChecksum(t *testing.T) {
	dir := t.TempDir()
	body := `{"model_id":"lr","version":"1","intercept":1.5,"coefficients":[1,2,3]}`
	p := writeFile(t, dir, "model.json", body)

	sum := sha256.Sum256([]byte(body))
	m, err := LoadLinearModel(p, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.Equal(t, "lr", m.ModelID)

	_, err = LoadLinearModel(p, "deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestLoadLinearModelRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "model.json", `{"model_id":"lr","intercept":0,"coefficients":[]}`)

	_, err := LoadLinearModel(p, "")
	require.Error(t, err)
}

func TestLinearModelPredict(t *testing.T) {
	m := &LinearModel{Intercept: 10, Coefficients: []float64{2, 3, 4}}

	y, err := m.Predict([]float64{1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 19.0, y, 1e-12)

	_, err = m.Predict([]float64{1})
	require.Error(t, err)
}

func TestLoadWidthMismatch(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "columns.json", `{"data_columns":["total_sqft","bath","bhk","hebbal"]}`)
	model := writeFile(t, dir, "model.json", `{"model_id":"lr","intercept":0,"coefficients":[1,2,3]}`)

	_, err := Load(cols, model, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coefficients")
}

func TestLoadSet(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "columns.json", `{"data_columns":["total_sqft","bath","bhk","hebbal","whitefield"]}`)
	model := writeFile(t, dir, "model.json", `{"model_id":"lr","intercept":0,"coefficients":[1,2,3,4,5]}`)

	set, err := Load(cols, model, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hebbal", "whitefield"}, set.Locations)
	assert.Len(t, set.Columns, 5)
	assert.False(t, set.LoadedAt.IsZero())
}

func TestLoadBundledArtifacts(t *testing.T) {
	set, err := Load("../../artifacts/columns.json", "../../artifacts/model.json", "")
	require.NoError(t, err)

	assert.Equal(t, "bengaluru-lr", set.ModelID)
	assert.Equal(t, set.Columns[NumericColumns:], set.Locations)
	assert.Contains(t, set.Locations, "whitefield")
}
