package service

import (
	"context"

	"TrendConfirm/internal/domain/models"
)

// TrendClassifier scores a feature vector. A non-nil error means the model
// path is unavailable for this cycle and the caller must fall back.
type TrendClassifier interface {
	Infer(ctx context.Context, fv models.FeatureVector) (models.DetectionSignal, error)
	ActThreshold() float64
	Version() string
}

// Scorer turns feature values into class probabilities (flat, up, down).
type Scorer interface {
	Score(ctx context.Context, values []float64) ([3]float64, error)
}
