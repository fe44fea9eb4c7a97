// Package ml holds the in-memory inference models: a binary congestion
// classifier and per-street speed forecasters, owned by a scoring session.
// Models are retrained from the store on each session build; there is no
// online or incremental update path.
package ml

import (
	"math"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/features"
)

const (
	trainEpochs  = 500
	learningRate = 0.1
)

// Prediction is the classifier's verdict for one feature vector.
// Confidence is the probability assigned to the returned label, in [0,1].
type Prediction struct {
	Congested  bool
	Confidence float64
}

// ClassifierModel is a logistic-regression congestion classifier over
// {length, bus_count, rolling_avg_speed}. Once trained it is immutable;
// Predict is a pure function of (model, vector).
type ClassifierModel struct {
	weights [3]float64
	bias    float64
	scaler  scaler
}

// TrainClassifier fits a model by gradient descent on the full labeled set.
// It requires at least minExamples examples containing both classes and
// returns *domain.InsufficientDataError otherwise — never a partial model.
func TrainClassifier(examples []features.Labeled, minExamples int) (*ClassifierModel, error) {
	if len(examples) < minExamples {
		return nil, &domain.InsufficientDataError{Need: minExamples, Got: len(examples)}
	}
	positives := 0
	for _, ex := range examples {
		if ex.Congested {
			positives++
		}
	}
	if positives == 0 || positives == len(examples) {
		return nil, &domain.InsufficientDataError{Need: minExamples, Got: len(examples)}
	}

	// Standardize features so length (often < 1 mile) and speed (tens of
	// mph) contribute comparably to the decision boundary.
	sc := fitScaler(examples)

	x := make([][3]float64, len(examples))
	y := make([]float64, len(examples))
	for i, ex := range examples {
		x[i] = sc.transform(ex.Vector)
		if ex.Congested {
			y[i] = 1
		}
	}

	m := &ClassifierModel{scaler: sc}
	n := float64(len(examples))
	for epoch := 0; epoch < trainEpochs; epoch++ {
		var gradW [3]float64
		var gradB float64
		for i := range x {
			p := sigmoid(dot(m.weights, x[i]) + m.bias)
			diff := p - y[i]
			for j := range gradW {
				gradW[j] += diff * x[i][j]
			}
			gradB += diff
		}
		for j := range m.weights {
			m.weights[j] -= learningRate * gradW[j] / n
		}
		m.bias -= learningRate * gradB / n
	}

	return m, nil
}

// Predict scores one feature vector. The label is whichever class the model
// finds more probable; confidence is that class's probability.
func (m *ClassifierModel) Predict(v features.Vector) Prediction {
	p := sigmoid(dot(m.weights, m.scaler.transform(v)) + m.bias)
	if p >= 0.5 {
		return Prediction{Congested: true, Confidence: p}
	}
	return Prediction{Congested: false, Confidence: 1 - p}
}

// Evaluate returns the model's accuracy on a held-out labeled set.
func (m *ClassifierModel) Evaluate(heldOut []features.Labeled) (float64, error) {
	if len(heldOut) == 0 {
		return 0, &domain.InsufficientDataError{Need: 1, Got: 0}
	}
	correct := 0
	for _, ex := range heldOut {
		if m.Predict(ex.Vector).Congested == ex.Congested {
			correct++
		}
	}
	return float64(correct) / float64(len(heldOut)), nil
}

// scaler standardizes each feature dimension to mean 0, stddev 1.
// Constant dimensions keep a stddev of 1 to avoid division by zero.
type scaler struct {
	mean   [3]float64
	stddev [3]float64
}

func fitScaler(examples []features.Labeled) scaler {
	var sc scaler
	n := float64(len(examples))

	for _, ex := range examples {
		f := asArray(ex.Vector)
		for j := range sc.mean {
			sc.mean[j] += f[j]
		}
	}
	for j := range sc.mean {
		sc.mean[j] /= n
	}

	for _, ex := range examples {
		f := asArray(ex.Vector)
		for j := range sc.stddev {
			d := f[j] - sc.mean[j]
			sc.stddev[j] += d * d
		}
	}
	for j := range sc.stddev {
		sc.stddev[j] = math.Sqrt(sc.stddev[j] / n)
		if sc.stddev[j] < 1e-10 {
			sc.stddev[j] = 1
		}
	}
	return sc
}

func (s scaler) transform(v features.Vector) [3]float64 {
	f := asArray(v)
	for j := range f {
		f[j] = (f[j] - s.mean[j]) / s.stddev[j]
	}
	return f
}

func asArray(v features.Vector) [3]float64 {
	return [3]float64{v.Length, v.BusCount, v.RollingAvgSpeed}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
