package models

import "time"

// FeatureVector is a fixed-length, versioned input row for the classifier.
type FeatureVector struct {
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Values        []float64 `json:"values"`
}
