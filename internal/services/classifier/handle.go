package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformedHandle marks an artifact that was read but cannot be trusted.
// It is a startup error, unlike a missing artifact.
var ErrMalformedHandle = errors.New("malformed model handle")

const (
	ScorerLinear = "linear"
	ScorerRemote = "remote"
)

// ModelHandle is the immutable description of a trained model. It is loaded
// once and shared by every symbol.
type ModelHandle struct {
	Version        string     `json:"version" yaml:"version"`
	SchemaVersion  string     `json:"expected_schema_version" yaml:"expected_schema_version"`
	FeatureLength  int        `json:"feature_length" yaml:"feature_length"`
	ActThreshold   float64    `json:"act_threshold" yaml:"act_threshold"`
	TrustThreshold float64    `json:"trust_threshold" yaml:"trust_threshold"`
	MinMargin      float64    `json:"min_margin" yaml:"min_margin"`
	Scorer         ScorerSpec `json:"scorer" yaml:"scorer"`
}

// ScorerSpec carries the backend parameters. Linear weights are rows in
// class order flat, up, down.
type ScorerSpec struct {
	Kind        string      `json:"kind" yaml:"kind"`
	Weights     [][]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Bias        []float64   `json:"bias,omitempty" yaml:"bias,omitempty"`
	ScalerMean  []float64   `json:"scaler_mean,omitempty" yaml:"scaler_mean,omitempty"`
	ScalerScale []float64   `json:"scaler_scale,omitempty" yaml:"scaler_scale,omitempty"`
	URL         string      `json:"url,omitempty" yaml:"url,omitempty"`
	Attempts    int         `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// LoadHandle reads a JSON or YAML artifact. A read failure is returned as is;
// a decode or validation failure wraps ErrMalformedHandle.
func LoadHandle(path string) (*ModelHandle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	return ParseHandle(raw, filepath.Ext(path))
}

// ParseHandle decodes an artifact; ext selects YAML for .yaml/.yml.
func ParseHandle(raw []byte, ext string) (*ModelHandle, error) {
	var h ModelHandle
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHandle, err)
		}
	default:
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHandle, err)
		}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

func (h *ModelHandle) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrMalformedHandle, fmt.Sprintf(format, args...))
	}
	if h.Version == "" {
		return bad("version is empty")
	}
	if h.SchemaVersion == "" {
		return bad("expected_schema_version is empty")
	}
	if h.FeatureLength <= 0 {
		return bad("feature_length must be positive, got %d", h.FeatureLength)
	}
	for name, v := range map[string]float64{
		"act_threshold":   h.ActThreshold,
		"trust_threshold": h.TrustThreshold,
		"min_margin":      h.MinMargin,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return bad("%s must be in [0,1], got %v", name, v)
		}
	}

	s := h.Scorer
	switch s.Kind {
	case ScorerLinear:
		if len(s.Weights) != 3 {
			return bad("linear scorer needs 3 weight rows, got %d", len(s.Weights))
		}
		for i, row := range s.Weights {
			if len(row) != h.FeatureLength {
				return bad("weight row %d has %d values, want %d", i, len(row), h.FeatureLength)
			}
		}
		if len(s.Bias) != 0 && len(s.Bias) != 3 {
			return bad("bias must have 3 values, got %d", len(s.Bias))
		}
		if len(s.ScalerMean) != len(s.ScalerScale) {
			return bad("scaler mean/scale length differ")
		}
		if len(s.ScalerMean) != 0 && len(s.ScalerMean) != h.FeatureLength {
			return bad("scaler has %d values, want %d", len(s.ScalerMean), h.FeatureLength)
		}
	case ScorerRemote:
		if s.URL == "" {
			return bad("remote scorer needs url")
		}
	default:
		return bad("unknown scorer kind %q", s.Kind)
	}
	return nil
}
