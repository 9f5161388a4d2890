package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.UTC().Format(time.RFC3339))
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("2024-10-10")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	require.True(t, ok)
	assert.Equal(t, ts, got.Unix())
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
	_, ok = ParseTime("-5")
	assert.False(t, ok)
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
	assert.True(t, ParseTimeDefault("nope", def).Equal(def))
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)
	to := time.Date(2024, 1, 1, 11, 3, 0, 0, time.UTC)

	f, tt := AlignFromTo(from, to, 5*time.Minute)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), f)
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), tt)

	f, _ = AlignFromTo(from, to, 0)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC), f)
}
