// Package prediction is the transport-independent entry point for price predictions.
// HTTP and gRPC handlers decode their input into a Request and call Service.Predict.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/estimator"
	"github.com/mcules/homeprice/internal/history"
	"github.com/mcules/homeprice/internal/metrics"
)

// InputError marks a request the caller got wrong.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsInputError reports whether err is (or wraps) an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

type Request struct {
	Location string
	Sqft     float64
	Bath     int
	BHK      int
}

// Validate applies the strict checks: a location is required and every numeric
// field must be positive.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Location) == "" {
		return &InputError{Field: "location", Reason: "must not be empty"}
	}
	if r.Sqft <= 0 {
		return &InputError{Field: "sqft", Reason: "must be greater than zero"}
	}
	if r.Bath <= 0 {
		return &InputError{Field: "bath", Reason: "must be greater than zero"}
	}
	if r.BHK <= 0 {
		return &InputError{Field: "bhk", Reason: "must be greater than zero"}
	}
	return nil
}

// Recorder persists successful predictions.
type Recorder interface {
	RecordPrediction(ctx context.Context, p history.Prediction) error
}

type Service struct {
	Estimator *estimator.Estimator
	History   Recorder
	Metrics   *metrics.Collectors
	Activity  *activity.Log
	Log       *logrus.Logger
}

// Predict runs one prediction. transport labels metrics and history ("http", "grpc").
func (s *Service) Predict(ctx context.Context, req Request, transport string) (estimator.Estimate, error) {
	est, err := s.Estimator.EstimatePrice(req.Location, req.Sqft, req.BHK, req.Bath)
	if s.Metrics != nil {
		s.Metrics.SetArtifactsLoaded(s.Estimator.Loaded())
	}
	if err != nil {
		s.observe(transport, "error", 0)
		s.Activity.Add(activity.Event{Type: activity.EventPredictionFailed, Source: transport, Note: err.Error()})
		return estimator.Estimate{}, err
	}
	s.observe(transport, "ok", est.Price)

	if s.History != nil {
		p := history.Prediction{
			ID:        uuid.NewString(),
			Location:  est.Location,
			Matched:   est.Matched(),
			Sqft:      req.Sqft,
			Bath:      req.Bath,
			BHK:       req.BHK,
			Price:     est.Price,
			Source:    transport,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.History.RecordPrediction(ctx, p); err != nil {
			s.Log.WithError(err).WithField("prediction_id", p.ID).Warn("record prediction")
		}
	}
	return est, nil
}

// Reject counts a request refused before reaching the estimator.
func (s *Service) Reject(transport string) {
	s.observe(transport, "invalid", 0)
}

func (s *Service) Locations() []string {
	locs := s.Estimator.Locations()
	if s.Metrics != nil {
		s.Metrics.SetArtifactsLoaded(s.Estimator.Loaded())
	}
	return locs
}

func (s *Service) observe(transport, outcome string, price float64) {
	if s.Metrics != nil {
		s.Metrics.ObservePrediction(transport, outcome, price)
	}
}
