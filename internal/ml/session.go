package ml

import (
	"context"
	"sync"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/features"
)

// State tracks a session through its lifecycle:
// untrained → training → ready → stale.
type State int

const (
	StateUntrained State = iota
	StateTraining
	StateReady
	StateStale
)

func (s State) String() string {
	switch s {
	case StateUntrained:
		return "untrained"
	case StateTraining:
		return "training"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// SeriesSource provides a street's speed history for lazy forecaster fits.
type SeriesSource interface {
	SpeedSeries(ctx context.Context, street string) ([]domain.SpeedPoint, error)
}

// Session owns one generation of model state. Each retrain builds a fresh
// session; the previous one is marked stale and never mutated again, so a
// caller holding an old session sees frozen models, not a retrain happening
// under it. Predict and Forecast only succeed while the session is ready.
type Session struct {
	mu          sync.RWMutex
	state       State
	classifier  *ClassifierModel
	forecasters map[string]*ForecastModel
	series      SeriesSource
	minHistory  int
}

// NewSession creates an untrained session drawing street histories from
// series when forecasters are fitted.
func NewSession(series SeriesSource, minHistory int) *Session {
	return &Session{
		state:       StateUntrained,
		forecasters: make(map[string]*ForecastModel),
		series:      series,
		minHistory:  minHistory,
	}
}

// Train fits the session's classifier from the labeled set. On failure the
// session returns to untrained and the error — typically
// *domain.InsufficientDataError — propagates; no partial model is kept.
func (s *Session) Train(examples []features.Labeled, minExamples int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateTraining
	model, err := TrainClassifier(examples, minExamples)
	if err != nil {
		s.state = StateUntrained
		return err
	}

	s.classifier = model
	// Any forecasters fitted before a retrain are superseded.
	s.forecasters = make(map[string]*ForecastModel)
	s.state = StateReady
	return nil
}

// Predict scores one feature vector against the frozen classifier.
// Outside the ready state it returns *domain.ModelNotReadyError rather than
// a default score.
func (s *Session) Predict(v features.Vector) (Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return Prediction{}, &domain.ModelNotReadyError{State: s.state.String()}
	}
	return s.classifier.Predict(v), nil
}

// Evaluate reports the frozen classifier's accuracy on a held-out set.
func (s *Session) Evaluate(heldOut []features.Labeled) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return 0, &domain.ModelNotReadyError{State: s.state.String()}
	}
	return s.classifier.Evaluate(heldOut)
}

// Forecast returns horizon forward speed values for a street, along with
// how many observations the model was fitted on. Forecasters are fitted
// lazily on first request per street and cached for the life of the
// session; a later session re-fits from fresher history.
func (s *Session) Forecast(ctx context.Context, street string, horizon int) (domain.StreetForecast, error) {
	s.mu.RLock()
	if s.state != StateReady {
		state := s.state
		s.mu.RUnlock()
		return domain.StreetForecast{}, &domain.ModelNotReadyError{State: state.String()}
	}
	model, ok := s.forecasters[street]
	s.mu.RUnlock()

	if !ok {
		series, err := s.series.SpeedSeries(ctx, street)
		if err != nil {
			return domain.StreetForecast{}, err
		}
		model, err = FitForecaster(street, series, s.minHistory)
		if err != nil {
			return domain.StreetForecast{}, err
		}

		s.mu.Lock()
		if s.state != StateReady {
			state := s.state
			s.mu.Unlock()
			return domain.StreetForecast{}, &domain.ModelNotReadyError{State: state.String()}
		}
		// Another caller may have fitted the same street concurrently; the
		// replacement is equivalent, fitted from the same snapshot.
		s.forecasters[street] = model
		s.mu.Unlock()
	}

	values, err := model.Forecast(horizon)
	if err != nil {
		return domain.StreetForecast{}, err
	}
	return domain.StreetForecast{
		Street:       street,
		Horizon:      horizon,
		Values:       values,
		Observations: model.Observations(),
	}, nil
}

// MarkStale retires a ready session. Subsequent Predict/Forecast calls fail
// with ModelNotReadyError, pushing callers to the successor session.
func (s *Session) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StateStale
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
