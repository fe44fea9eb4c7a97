package ml

import (
	"fmt"
	"sort"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
)

// Holt smoothing coefficients. Chosen for short urban speed series: the
// level tracks recent readings closely while the trend damps slowly enough
// to ride out single-cycle spikes.
const (
	holtAlpha = 0.5
	holtBeta  = 0.3
)

// ForecastModel holds fitted Holt linear-trend state for one street.
// Immutable after FitForecaster returns; a re-fit produces a new instance.
type ForecastModel struct {
	Street string

	level        float64
	trend        float64
	observations int
}

// FitForecaster fits a linear-trend exponential smoothing model to a
// street's speed history. The series is sorted chronologically here — the
// caller is not trusted to pre-order it. Fewer than minHistory observations
// returns *domain.InsufficientHistoryError; a street with no rows fails the
// same way rather than yielding an empty forecast.
func FitForecaster(street string, series []domain.SpeedPoint, minHistory int) (*ForecastModel, error) {
	if minHistory < 2 {
		minHistory = 2
	}
	if len(series) < minHistory {
		return nil, &domain.InsufficientHistoryError{Street: street, Need: minHistory, Got: len(series)}
	}

	ordered := make([]domain.SpeedPoint, len(series))
	copy(ordered, series)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	level := ordered[0].Speed
	trend := ordered[1].Speed - ordered[0].Speed
	for _, p := range ordered[1:] {
		prevLevel := level
		level = holtAlpha*p.Speed + (1-holtAlpha)*(level+trend)
		trend = holtBeta*(level-prevLevel) + (1-holtBeta)*trend
	}

	return &ForecastModel{
		Street:       street,
		level:        level,
		trend:        trend,
		observations: len(ordered),
	}, nil
}

// Forecast projects the fitted level and trend horizon steps forward.
// The result has exactly horizon values, each finite and non-negative
// (speeds below zero are clamped).
func (m *ForecastModel) Forecast(horizon int) ([]float64, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("forecast horizon must be at least 1, got %d", horizon)
	}
	out := make([]float64, horizon)
	for i := range out {
		v := m.level + float64(i+1)*m.trend
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out, nil
}

// Observations reports how many points the model was fitted on.
func (m *ForecastModel) Observations() int {
	return m.observations
}
