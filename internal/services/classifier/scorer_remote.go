package classifier

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	xhttp "TrendConfirm/pkg/http"
)

type scoreRequest struct {
	Version  string    `json:"version"`
	Features []float64 `json:"features"`
}

type scoreResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// RemoteScorer posts feature rows to a model-serving endpoint and expects
// {"probabilities": [flat, up, down]} back.
type RemoteScorer struct {
	url      string
	version  string
	attempts int
	client   *xhttp.Client
}

func NewRemoteScorer(h *ModelHandle, timeout time.Duration) *RemoteScorer {
	attempts := h.Scorer.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return &RemoteScorer{
		url:      h.Scorer.URL,
		version:  h.Version,
		attempts: attempts,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (s *RemoteScorer) Score(ctx context.Context, values []float64) ([3]float64, error) {
	var out [3]float64
	var resp scoreResponse
	var err error
	for i := 1; i <= s.attempts; i++ {
		err = s.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:  http.MethodPost,
			URL:     s.url,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    scoreRequest{Version: s.version, Features: values},
		}, &resp)
		if err == nil {
			break
		}
		if i == s.attempts {
			return out, fmt.Errorf("post %s: %w", s.url, err)
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}

	if len(resp.Probabilities) != 3 {
		return out, fmt.Errorf("remote scorer: got %d probabilities, want 3", len(resp.Probabilities))
	}
	var sum float64
	for i, p := range resp.Probabilities {
		if math.IsNaN(p) || p < 0 {
			return out, fmt.Errorf("remote scorer: invalid probability %v", p)
		}
		out[i] = p
		sum += p
	}
	if sum == 0 {
		return out, fmt.Errorf("remote scorer: probabilities sum to zero")
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}
