package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/artifacts"
	"github.com/mcules/homeprice/internal/estimator"
	"github.com/mcules/homeprice/internal/history"
	"github.com/mcules/homeprice/internal/logx"
	"github.com/mcules/homeprice/internal/metrics"
	"github.com/mcules/homeprice/internal/prediction"
)

type memoryHistory struct {
	mu   sync.Mutex
	rows []history.Prediction
}

func (m *memoryHistory) RecordPrediction(_ context.Context, p history.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append([]history.Prediction{p}, m.rows...)
	return nil
}

func (m *memoryHistory) ListPredictions(_ context.Context, limit int) ([]history.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.rows) {
		limit = len(m.rows)
	}
	return append([]history.Prediction(nil), m.rows[:limit]...), nil
}

var columns = []string{"total_sqft", "bath", "bhk", "electronic city", "hebbal", "whitefield"}

func loadedSet() (*artifacts.Set, error) {
	return &artifacts.Set{
		Columns:   columns,
		Locations: columns[3:],
		Model: &artifacts.LinearModel{
			ModelID:      "lr",
			Intercept:    -0.004,
			Coefficients: []float64{0.1, 3, 2, -5, 15, 25},
		},
		ModelID:  "lr",
		LoadedAt: time.Now(),
	}, nil
}

func missingSet() (*artifacts.Set, error) {
	return nil, errors.New("open columns.json: no such file or directory")
}

type testServer struct {
	mux     *http.ServeMux
	history *memoryHistory
}

func newTestServer(t *testing.T, load estimator.LoadFunc, opts Options) *testServer {
	t.Helper()
	act := activity.New(20)
	est := estimator.New(load, logx.Discard(), act)
	_ = est.Reload()

	hist := &memoryHistory{}
	svc := &prediction.Service{
		Estimator: est,
		History:   hist,
		Metrics:   metrics.NewCollectors(),
		Activity:  act,
		Log:       logx.Discard(),
	}
	if opts.Metrics == nil {
		opts.Metrics = svc.Metrics
	}
	h := NewHandler(svc, hist, metrics.NewLatencyTracker(0.2), logx.Discard())

	mux := http.NewServeMux()
	h.Register(mux, opts)
	return &testServer{mux: mux, history: hist}
}

func (s *testServer) do(t *testing.T, method, path, contentType, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func TestPredictJSON(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json",
		`{"location":"Hebbal","sqft":1000,"bath":2,"bhk":3}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, out["success"])
	// -0.004 + 100 + 6 + 6 + 15
	assert.Equal(t, 127.0, out["prediction"])
	require.Len(t, s.history.rows, 1)
	assert.Equal(t, "hebbal", s.history.rows[0].Location)
}

func TestPredictAcceptsNumericStrings(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json",
		`{"location":"Nowhere","sqft":"1000","bath":"2","bhk":"3"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	// Unknown location: no one-hot contribution. -0.004 + 100 + 6 + 6
	assert.Equal(t, 112.0, out["prediction"])
	assert.False(t, s.history.rows[0].Matched)
}

func TestPredictErrors(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	cases := map[string]string{
		"malformed json":   `{"location":`,
		"missing location": `{"sqft":1000,"bath":2,"bhk":3}`,
		"bad sqft":         `{"location":"hebbal","sqft":"big","bath":2,"bhk":3}`,
		"fractional bath":  `{"location":"hebbal","sqft":1000,"bath":2.5,"bhk":3}`,
		"object value":     `{"location":"hebbal","sqft":{},"bath":2,"bhk":3}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr, out := s.do(t, http.MethodPost, "/predict", "application/json", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestPredictMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, _ := s.do(t, http.MethodGet, "/predict", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestPredictArtifactsMissing(t *testing.T) {
	s := newTestServer(t, missingSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json",
		`{"location":"hebbal","sqft":1000,"bath":2,"bhk":3}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, estimator.ErrArtifactsNotLoaded.Error(), out["error"])
}

func TestPredictHomePriceForm(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	form := url.Values{
		"location":   {"whitefield"},
		"total_sqft": {"1200"},
		"bath":       {"2"},
		"bhk":        {"2"},
	}
	rr, out := s.do(t, http.MethodPost, "/predict_home_price", "application/x-www-form-urlencoded", form.Encode())

	require.Equal(t, http.StatusOK, rr.Code)
	// -0.004 + 120 + 6 + 4 + 25
	assert.Equal(t, 155.0, out["estimated_price"])
}

func TestPredictHomePriceJSONSqftAlias(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict_home_price", "application/json",
		`{"location":"electronic city","sqft":1000,"bath":1,"bhk":1}`)

	require.Equal(t, http.StatusOK, rr.Code)
	// -0.004 + 100 + 3 + 2 - 5
	assert.Equal(t, 100.0, out["estimated_price"])
}

func TestPredictHomePriceRejectsNonPositive(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	bodies := []string{
		`{"location":"hebbal","total_sqft":0,"bath":2,"bhk":2}`,
		`{"location":"hebbal","total_sqft":-5,"bath":2,"bhk":2}`,
		`{"location":"hebbal","total_sqft":1000,"bath":0,"bhk":2}`,
		`{"location":"hebbal","total_sqft":1000,"bath":2,"bhk":-1}`,
		`{"location":"","total_sqft":1000,"bath":2,"bhk":2}`,
		`{"location":"hebbal","bath":2,"bhk":2}`,
	}
	for _, body := range bodies {
		rr, out := s.do(t, http.MethodPost, "/predict_home_price", "application/json", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.NotEmpty(t, out["error"], body)
	}
	assert.Empty(t, s.history.rows)
}

func TestPredictHomePriceArtifactsMissing(t *testing.T) {
	s := newTestServer(t, missingSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict_home_price", "application/json",
		`{"location":"hebbal","total_sqft":1000,"bath":2,"bhk":2}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "model artifacts not loaded", out["error"])
}

func TestPredictionIsRoundedToTwoDecimals(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json",
		`{"location":"hebbal","sqft":1001.37,"bath":2,"bhk":3}`)
	require.Equal(t, http.StatusOK, rr.Code)

	p := out["prediction"].(float64)
	assert.Equal(t, estimator.Round2(p), p)
	// -0.004 + 100.137 + 6 + 6 + 15 = 127.133
	assert.Equal(t, 127.13, p)
}

func TestLocationNames(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, out := s.do(t, http.MethodGet, "/get_location_names", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{"electronic city", "hebbal", "whitefield"}, out["locations"])
}

func TestLocationNamesArtifactsMissing(t *testing.T) {
	s := newTestServer(t, missingSet, Options{})

	rr, out := s.do(t, http.MethodGet, "/get_location_names", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, out["locations"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})
	s.do(t, http.MethodPost, "/predict", "application/json", `{"location":"hebbal","sqft":1000,"bath":2,"bhk":3}`)

	rr, out := s.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", out["status"])

	art := out["artifacts"].(map[string]any)
	assert.Equal(t, true, art["loaded"])
	assert.Equal(t, "lr", art["model_id"])
	assert.Equal(t, 6.0, art["columns"])

	lat := out["latency"].(map[string]any)
	route := lat["/predict"].(map[string]any)
	assert.Equal(t, 1.0, route["ok"])
	assert.Equal(t, 200.0, route["last_status"])
	assert.NotEmpty(t, route["last_at"])

	degraded := newTestServer(t, missingSet, Options{})
	_, out = degraded.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, "degraded", out["status"])
}

func TestHistory(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})
	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/predict", "application/json", `{"location":"hebbal","sqft":1000,"bath":2,"bhk":3}`)
	}

	rr, out := s.do(t, http.MethodGet, "/api/history?limit=2", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, out["predictions"], 2)

	rr, _ = s.do(t, http.MethodGet, "/api/history?limit=0", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProtectOnlyWrapsPredictionRoutes(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	s := newTestServer(t, loadedSet, Options{Protect: deny})

	rr, _ := s.do(t, http.MethodPost, "/predict", "application/json", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = s.do(t, http.MethodPost, "/predict_home_price", "application/json", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = s.do(t, http.MethodGet, "/get_location_names", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPredictIgnoresUnknownFields(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json",
		`{"location":"hebbal","sqft":1000,"bath":2,"bhk":3,"furnished":true,"meta":{"src":"web"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 127.0, out["prediction"])

	rr, out = s.do(t, http.MethodPost, "/predict_home_price", "application/json",
		`{"location":"hebbal","total_sqft":1000,"bath":2,"bhk":3,"furnished":null,"tags":["a"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 127.0, out["estimated_price"])
}

func TestPredictHugeSqftStaysJSON(t *testing.T) {
	s := newTestServer(t, loadedSet, Options{})
	body := `{"location":"hebbal","total_sqft":1e308,"sqft":1e308,"bath":2,"bhk":2}`

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json", body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InEpsilon(t, 1e307, out["prediction"].(float64), 1e-9)

	rr, out = s.do(t, http.MethodPost, "/predict_home_price", "application/json", body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InEpsilon(t, 1e307, out["estimated_price"].(float64), 1e-9)
}

func overflowingSet() (*artifacts.Set, error) {
	set, _ := loadedSet()
	set.Model = &artifacts.LinearModel{ModelID: "lr", Coefficients: []float64{10, 3, 2, -5, 15, 25}}
	return set, nil
}

func TestPredictOverflowIsClientError(t *testing.T) {
	s := newTestServer(t, overflowingSet, Options{})
	body := `{"location":"hebbal","total_sqft":1e308,"sqft":1e308,"bath":2,"bhk":2}`

	rr, out := s.do(t, http.MethodPost, "/predict", "application/json", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, estimator.ErrPriceOutOfRange.Error(), out["error"])

	rr, out = s.do(t, http.MethodPost, "/predict_home_price", "application/json", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, estimator.ErrPriceOutOfRange.Error(), out["error"])
	assert.Empty(t, s.history.rows)
}
