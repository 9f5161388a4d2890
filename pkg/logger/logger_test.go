package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

func TestFieldsAreStructured(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("symbol", "BTCUSDT"))
	l.Warn("classifier bypassed",
		String("reason", "timeout"),
		Float64("confidence", 0.41),
		Int("bars", 3),
		Bool("fallback", true),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "classifier bypassed", entry["message"])
	assert.Equal(t, "BTCUSDT", entry["symbol"])
	assert.Equal(t, "timeout", entry["reason"])
	assert.Equal(t, 0.41, entry["confidence"])
	assert.Equal(t, float64(3), entry["bars"])
	assert.Equal(t, true, entry["fallback"])
	assert.Equal(t, float64(1500), entry["took"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Info("nothing", String("k", "v")) })
}
