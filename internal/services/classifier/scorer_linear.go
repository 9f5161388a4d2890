package classifier

import (
	"context"
	"fmt"
	"math"
)

// LinearScorer evaluates a multinomial logistic model in process.
type LinearScorer struct {
	weights [][]float64
	bias    [3]float64
	mean    []float64
	scale   []float64
}

func NewLinearScorer(spec ScorerSpec) *LinearScorer {
	s := &LinearScorer{
		weights: spec.Weights,
		mean:    spec.ScalerMean,
		scale:   spec.ScalerScale,
	}
	copy(s.bias[:], spec.Bias)
	return s
}

func (s *LinearScorer) Score(ctx context.Context, values []float64) ([3]float64, error) {
	var out [3]float64
	if err := ctx.Err(); err != nil {
		return out, err
	}
	for _, row := range s.weights {
		if len(row) != len(values) {
			return out, fmt.Errorf("linear scorer: got %d values, want %d", len(values), len(row))
		}
	}

	var logits [3]float64
	for c := 0; c < 3; c++ {
		z := s.bias[c]
		for i, x := range values {
			if len(s.mean) > 0 {
				sc := s.scale[i]
				if sc == 0 {
					sc = 1
				}
				x = (x - s.mean[i]) / sc
			}
			z += s.weights[c][i] * x
		}
		logits[c] = z
	}
	return softmax(logits), nil
}

func softmax(z [3]float64) [3]float64 {
	m := math.Max(z[0], math.Max(z[1], z[2]))
	var sum float64
	var out [3]float64
	for i, v := range z {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
