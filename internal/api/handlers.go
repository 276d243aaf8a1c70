package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcules/homeprice/internal/estimator"
	"github.com/mcules/homeprice/internal/history"
	"github.com/mcules/homeprice/internal/httpx"
	"github.com/mcules/homeprice/internal/metrics"
	"github.com/mcules/homeprice/internal/prediction"
)

// HistoryReader lists recorded predictions.
type HistoryReader interface {
	ListPredictions(ctx context.Context, limit int) ([]history.Prediction, error)
}

type Handler struct {
	Service *prediction.Service
	History HistoryReader
	Latency *metrics.LatencyTracker
	Log     *logrus.Logger
}

func NewHandler(svc *prediction.Service, hist HistoryReader, lat *metrics.LatencyTracker, log *logrus.Logger) *Handler {
	return &Handler{Service: svc, History: hist, Latency: lat, Log: log}
}

// Options controls cross-cutting wrappers applied per route.
type Options struct {
	// Protect wraps prediction routes, typically with API key auth. Optional.
	Protect func(http.Handler) http.Handler
	Limiter *httpx.RateLimiter
	Metrics *metrics.Collectors
}

func (h *Handler) Register(mux *http.ServeMux, opts Options) {
	route := func(pattern string, protected bool, fn http.HandlerFunc) {
		var handler http.Handler = fn
		if protected {
			if opts.Protect != nil {
				handler = opts.Protect(handler)
			}
			handler = opts.Limiter.Wrap(handler)
		}
		if opts.Metrics != nil {
			handler = opts.Metrics.InstrumentRoute(pattern, h.Latency, handler)
		}
		mux.Handle(pattern, handler)
	}

	route("/predict", true, h.HandlePredict)
	route("/predict_home_price", true, h.HandlePredictHomePrice)
	route("/get_location_names", false, h.HandleLocationNames)
	route("/health", false, h.HandleHealth)
	route("/api/history", false, h.HandleHistory)
}

// HandlePredict serves POST /predict. It reads a JSON body and reports every failure
// as 400 {"success": false, "error": ...}.
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fields, err := jsonFields(r.Body)
	if err != nil {
		h.Service.Reject("http")
		predictFailed(w, err)
		return
	}
	req, err := parsePrediction(fields, "sqft", "total_sqft")
	if err != nil {
		h.Service.Reject("http")
		predictFailed(w, err)
		return
	}

	est, err := h.Service.Predict(r.Context(), req, "http")
	if err != nil {
		h.logFailure(r, err)
		predictFailed(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "prediction": est.Price})
}

func predictFailed(w http.ResponseWriter, err error) {
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
}

// HandlePredictHomePrice serves POST /predict_home_price. It accepts JSON or form data,
// rejects non-positive inputs and answers {"estimated_price": ...}.
func (h *Handler) HandlePredictHomePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, err := h.decodeStrict(w, r)
	if err != nil {
		h.Service.Reject("http")
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	est, err := h.Service.Predict(r.Context(), req, "http")
	if err != nil {
		h.logFailure(r, err)
		code := http.StatusInternalServerError
		if errors.Is(err, estimator.ErrPriceOutOfRange) {
			code = http.StatusBadRequest
		}
		httpx.WriteJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]float64{"estimated_price": est.Price})
}

func (h *Handler) decodeStrict(w http.ResponseWriter, r *http.Request) (prediction.Request, error) {
	fields, err := requestFields(w, r)
	if err != nil {
		return prediction.Request{}, err
	}
	req, err := parsePrediction(fields, "total_sqft", "sqft")
	if err != nil {
		return prediction.Request{}, err
	}
	return req, req.Validate()
}

// HandleLocationNames serves GET /get_location_names.
func (h *Handler) HandleLocationNames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"locations": h.Service.Locations()})
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Artifacts artifactsHealth         `json:"artifacts"`
	Latency   map[string]routeLatency `json:"latency"`
}

type artifactsHealth struct {
	Loaded       bool       `json:"loaded"`
	ModelID      string     `json:"model_id,omitempty"`
	ModelVersion string     `json:"model_version,omitempty"`
	Columns      int        `json:"columns"`
	Locations    int        `json:"locations"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

type routeLatency struct {
	EWMAms      float64    `json:"ewma_ms"`
	OK          uint64     `json:"ok"`
	ClientError uint64     `json:"client_error"`
	ServerError uint64     `json:"server_error"`
	LastMs      float64    `json:"last_ms"`
	LastStatus  int        `json:"last_status"`
	LastAt      *time.Time `json:"last_at,omitempty"`
}

// HandleHealth reports "ok" when artifacts are loaded and "degraded" otherwise.
// It always answers 200 so a degraded process is reported, not restarted.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.Service.Estimator.Status()

	out := healthResponse{
		Status: "ok",
		Artifacts: artifactsHealth{
			Loaded:       st.Loaded,
			ModelID:      st.ModelID,
			ModelVersion: st.ModelVersion,
			Columns:      st.Columns,
			Locations:    st.Locations,
			Error:        st.LastError,
		},
		Latency: map[string]routeLatency{},
	}
	if !st.Loaded {
		out.Status = "degraded"
	} else {
		at := st.LoadedAt
		out.Artifacts.LoadedAt = &at
	}
	if h.Latency != nil {
		for route, l := range h.Latency.Snapshot() {
			at := l.LastAt
			out.Latency[route] = routeLatency{
				EWMAms:      l.EWMAms,
				OK:          l.OK,
				ClientError: l.ClientError,
				ServerError: l.ServerError,
				LastMs:      l.LastMs,
				LastStatus:  l.LastStatus,
				LastAt:      &at,
			}
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type historyRow struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Matched   bool      `json:"matched"`
	Sqft      float64   `json:"sqft"`
	Bath      int       `json:"bath"`
	BHK       int       `json:"bhk"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleHistory serves GET /api/history?limit=n.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if h.History == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string][]historyRow{"predictions": {}})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	rows, err := h.History.ListPredictions(r.Context(), limit)
	if err != nil {
		h.Log.WithError(err).Error("list predictions")
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}

	out := make([]historyRow, 0, len(rows))
	for _, p := range rows {
		out = append(out, historyRow{
			ID:        p.ID,
			Location:  p.Location,
			Matched:   p.Matched,
			Sqft:      p.Sqft,
			Bath:      p.Bath,
			BHK:       p.BHK,
			Price:     p.Price,
			Source:    p.Source,
			CreatedAt: p.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]historyRow{"predictions": out})
}

func (h *Handler) logFailure(r *http.Request, err error) {
	entry := h.Log.WithFields(logrus.Fields{
		"request_id": httpx.RequestID(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err)
	switch {
	case errors.Is(err, estimator.ErrArtifactsNotLoaded):
		entry.Warn("prediction unavailable")
		return
	case errors.Is(err, estimator.ErrPriceOutOfRange):
		entry.Info("prediction out of range")
		return
	}
	entry.Error("prediction failed")
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	httpx.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
