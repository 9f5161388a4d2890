package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(50*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	d := backoffWithJitter(100*time.Millisecond, 50*time.Millisecond, 1)
	assert.Greater(t, d, 50*time.Millisecond)
	assert.LessOrEqual(t, d, 100*time.Millisecond)
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
	_, err = NewProducer()
	assert.Error(t, err)
}

func TestConsumerRegisterAndStartWithoutHandlers(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(4))
	require.NoError(t, err)
	assert.Len(t, c.queues, 4)
	assert.Error(t, c.Start())
}

func TestHookFuncsDefaults(t *testing.T) {
	var h HookFuncs
	ctx := context.Background()
	km := kafka.Message{Value: []byte("x")}
	gotCtx, gotKm, data, err := h.BeforeHandle(ctx, "t", km, km.Value)
	require.NoError(t, err)
	assert.Equal(t, ctx, gotCtx)
	assert.Equal(t, km, gotKm)
	assert.Equal(t, []byte("x"), data)

	var seen error
	h.Err = func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { seen = err }
	h.OnError(ctx, "t", km, nil, errors.New("bad"))
	assert.EqualError(t, seen, "bad")

	assert.NotPanics(t, func() {
		safeAfter(HookFuncs{After: func(context.Context, string, kafka.Message, []byte, error) { panic("x") }}, ctx, "t", km, nil, nil)
	})
}

func TestEncode(t *testing.T) {
	b, err := encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	b, _ = encode("raw")
	assert.Equal(t, []byte("raw"), b)

	_, err = encode(func() {})
	assert.Error(t, err)
}
