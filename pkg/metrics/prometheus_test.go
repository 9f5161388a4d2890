package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"TrendConfirm/internal/domain/models"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg)

	r.RecordBar("BTCUSDT", models.TF5m)
	r.RecordBar("BTCUSDT", models.TF5m)
	r.RecordDegraded("BTCUSDT", "inference_timeout")
	r.RecordTransition("BTCUSDT", models.StatusConfirmed)
	r.RecordDetection("BTCUSDT", models.SourceCUSUM, models.DirectionDown)
	r.RecordIntent("BTCUSDT", 0.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.bars.WithLabelValues("BTCUSDT", "5m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.degraded.WithLabelValues("BTCUSDT", "inference_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("BTCUSDT", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.detections.WithLabelValues("BTCUSDT", "cusum", "down")))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.intentSize.WithLabelValues("BTCUSDT")))
}
