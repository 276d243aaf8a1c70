package estimator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/artifacts"
)

// ErrArtifactsNotLoaded is returned while the column list or model is absent.
var ErrArtifactsNotLoaded = errors.New("model artifacts not loaded")

// ErrPriceOutOfRange is returned when the model output for a request is not a finite
// number, which only happens for extreme inputs.
var ErrPriceOutOfRange = errors.New("predicted price is out of range")

// LoadFunc produces a fresh artifact set. It is called at startup and on reload.
type LoadFunc func() (*artifacts.Set, error)

// Estimate is the outcome of one prediction.
type Estimate struct {
	Price float64
	// Location is the normalized input location.
	Location string
	// LocationIndex is the one-hot column set, or -1 when the location is "other".
	LocationIndex int
}

// Matched reports whether the location has its own column.
func (e Estimate) Matched() bool { return e.LocationIndex >= 0 }

// Status describes the currently loaded artifacts.
type Status struct {
	Loaded       bool
	ModelID      string
	ModelVersion string
	Columns      int
	Locations    int
	LoadedAt     time.Time
	LastAttempt  time.Time
	LastError    string
}

type loaded struct {
	set   *artifacts.Set
	index map[string]int
}

// Estimator owns the process-wide artifact set. The set is swapped whole on reload and
// never mutated, so readers take a snapshot pointer and release the lock immediately.
type Estimator struct {
	load     LoadFunc
	log      *logrus.Logger
	activity *activity.Log

	// MinRetryGap bounds how often requests observing absent artifacts trigger a reload.
	MinRetryGap time.Duration

	mu          sync.RWMutex
	cur         *loaded
	lastErr     error
	lastAttempt time.Time

	reloadMu sync.Mutex
}

func New(load LoadFunc, log *logrus.Logger, act *activity.Log) *Estimator {
	return &Estimator{
		load:        load,
		log:         log,
		activity:    act,
		MinRetryGap: time.Second,
	}
}

// Reload loads a fresh artifact set. On failure the previous set, if any, stays in place.
func (e *Estimator) Reload() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	return e.reloadLocked()
}

func (e *Estimator) reloadLocked() error {
	started := time.Now()
	set, err := e.load()

	e.mu.Lock()
	e.lastAttempt = started
	e.lastErr = err
	if err == nil {
		e.cur = index(set)
	}
	e.mu.Unlock()

	if err != nil {
		e.log.WithError(err).Error("loading saved artifacts failed")
		e.activity.Add(activity.Event{Type: activity.EventArtifactsLoadFailed, Source: "estimator", Note: err.Error()})
		return err
	}

	e.log.WithFields(logrus.Fields{
		"model_id":  set.ModelID,
		"columns":   len(set.Columns),
		"locations": len(set.Locations),
	}).Info("loading saved artifacts done")
	e.activity.Add(activity.Event{
		Type:   activity.EventArtifactsLoaded,
		Source: "estimator",
		Note:   fmt.Sprintf("model=%s columns=%d", set.ModelID, len(set.Columns)),
	})
	return nil
}

func index(set *artifacts.Set) *loaded {
	idx := make(map[string]int, len(set.Locations))
	for i := artifacts.NumericColumns; i < len(set.Columns); i++ {
		if _, dup := idx[set.Columns[i]]; !dup {
			idx[set.Columns[i]] = i
		}
	}
	return &loaded{set: set, index: idx}
}

func (e *Estimator) snapshot() *loaded {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cur
}

// Loaded reports whether artifacts are currently available.
func (e *Estimator) Loaded() bool {
	return e.snapshot() != nil
}

// ensure returns the current set, attempting one reload if it is absent.
func (e *Estimator) ensure() *loaded {
	if cur := e.snapshot(); cur != nil {
		return cur
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	// Another caller may have loaded while we waited.
	if cur := e.snapshot(); cur != nil {
		return cur
	}

	e.mu.RLock()
	last := e.lastAttempt
	e.mu.RUnlock()
	if !last.IsZero() && time.Since(last) < e.MinRetryGap {
		return nil
	}

	_ = e.reloadLocked()
	return e.snapshot()
}

// Locations returns the known location names in column order. The result is empty,
// never nil, when artifacts are absent.
func (e *Estimator) Locations() []string {
	cur := e.ensure()
	if cur == nil {
		return []string{}
	}
	return append([]string{}, cur.set.Locations...)
}

// Encode builds the feature vector for one request: sqft, bath and bhk in the leading
// slots and a single one-hot location bit. It returns the vector and the location index,
// or -1 when the location has no column.
func Encode(columns []string, index map[string]int, location string, sqft float64, bhk, bath int) ([]float64, int) {
	x := make([]float64, len(columns))
	x[0] = sqft
	x[1] = float64(bath)
	x[2] = float64(bhk)

	loc, ok := index[artifacts.NormalizeName(location)]
	if !ok {
		return x, -1
	}
	x[loc] = 1
	return x, loc
}

// EstimatePrice predicts the price for a home and rounds it to two decimals.
func (e *Estimator) EstimatePrice(location string, sqft float64, bhk, bath int) (Estimate, error) {
	cur := e.ensure()
	if cur == nil {
		return Estimate{}, ErrArtifactsNotLoaded
	}

	x, loc := Encode(cur.set.Columns, cur.index, location, sqft, bhk, bath)
	y, err := cur.set.Model.Predict(x)
	if err != nil {
		return Estimate{}, fmt.Errorf("predict: %w", err)
	}
	price := Round2(y)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Estimate{}, ErrPriceOutOfRange
	}

	return Estimate{
		Price:         price,
		Location:      artifacts.NormalizeName(location),
		LocationIndex: loc,
	}, nil
}

// maxFractional is the magnitude above which a float64 has no fractional digits left.
const maxFractional = 1 << 52

// Round2 rounds half away from zero to two decimal places. Values too large to carry
// a fraction are returned unchanged, so v*100 never overflows.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.Abs(v) >= maxFractional {
		return v
	}
	return math.Round(v*100) / 100
}

func (e *Estimator) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{LastAttempt: e.lastAttempt}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	if e.cur != nil {
		st.Loaded = true
		st.ModelID = e.cur.set.ModelID
		st.ModelVersion = e.cur.set.ModelVersion
		st.Columns = len(e.cur.set.Columns)
		st.Locations = len(e.cur.set.Locations)
		st.LoadedAt = e.cur.set.LoadedAt
	}
	return st
}
