package usecase

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrendConfirm/internal/domain/models"
	"TrendConfirm/internal/services/cusum"
)

func defaultConfirm() ConfirmConfig {
	return ConfirmConfig{Window: 5 * time.Minute, CombineWeight: 0.7}
}

func TestConfirmConfigValidate(t *testing.T) {
	assert.NoError(t, defaultConfirm().Validate())
	assert.Error(t, ConfirmConfig{Window: 0, CombineWeight: 0.7}.Validate())
	assert.Error(t, ConfirmConfig{Window: time.Minute, CombineWeight: 0.4}.Validate())
	assert.Error(t, ConfirmConfig{Window: time.Minute, CombineWeight: 1.1}.Validate())
	assert.Error(t, ConfirmConfig{Window: time.Minute, CombineWeight: 0.7, Cooldown: -time.Second}.Validate())
}

func TestCombine(t *testing.T) {
	assert.InDelta(t, 0.94, Combine(0.8, 1, 0.7), 1e-12)
	assert.InDelta(t, 0.94, Combine(1, 0.8, 0.7), 1e-12)
	assert.InDelta(t, 0.8, Combine(0.8, 0.2, 1), 1e-12)
	assert.Equal(t, 1.0, Combine(1.5, 1.2, 0.5))
	assert.Equal(t, 0.0, Combine(-1, -1, 0.5))
}

// Classifier under-confident throughout: the 5m CUSUM drives the primary,
// a later 1m shift confirms it inside the window.
func TestScenarioCUSUMOnlyConfirmsUp(t *testing.T) {
	cl := &fakeClassifier{dir: models.DirectionUp, conf: 0.3, act: 0.6}
	h := newHarness(t, cl, defaultConfirm())

	shift := t0.Add(200 * time.Minute)
	trigger := shift.Add(10 * time.Minute)
	deadline := trigger.Add(5 * time.Minute)

	var (
		primaryAt time.Time
		confirmed []*models.ConfirmedSignal
		bars5m    int
	)
	h.run(t, t0, deadline, ramp(shift, 5*time.Minute, 100), ramp(trigger, time.Minute, 20),
		func(b models.Candle, out *models.ConfirmedSignal) {
			if b.Timeframe == models.TF5m {
				bars5m++
				if primaryAt.IsZero() && h.st.Confirmation.Status == models.StatusPending {
					primaryAt = b.Timestamp
				}
			}
			if out != nil {
				confirmed = append(confirmed, out)
			}
		})

	assert.Equal(t, trigger, primaryAt)
	require.Len(t, confirmed, 1)
	sig := confirmed[0]
	assert.Equal(t, models.DirectionUp, sig.Direction)
	assert.Equal(t, trigger.Add(3*time.Minute), sig.Timestamp)
	assert.False(t, sig.Timestamp.After(deadline))
	assert.Equal(t, []models.Source{models.SourceCUSUM, models.SourceCUSUM}, sig.Sources)
	assert.Equal(t, models.TF5m, sig.Primary.Timeframe)
	assert.Equal(t, models.TF1m, sig.Confirmation.Timeframe)
	assert.Equal(t, 1.0, sig.Confidence)
	assert.NotEmpty(t, sig.ID)

	// a degraded notification for every 5m bar
	assert.Equal(t, bars5m, h.notifier.count())
	assert.Equal(t, models.StatusIdle, h.st.Confirmation.Status)
	assert.Equal(t, 1, h.metrics.status[models.StatusConfirmed])
}

func TestModelPrimaryConfirmedWithCombinedConfidence(t *testing.T) {
	cl := &fakeClassifier{dir: models.DirectionUp, conf: 0.8, act: 0.6}
	h := newHarness(t, cl, defaultConfirm())

	// 30 flat 5m bars fill the window; the 30th opens Pending via the model.
	first := t0.Add(150 * time.Minute)
	var confirmed []*models.ConfirmedSignal
	h.run(t, t0, first.Add(4*time.Minute), flat, ramp(first, time.Minute, 20),
		func(_ models.Candle, out *models.ConfirmedSignal) {
			if out != nil {
				confirmed = append(confirmed, out)
			}
		})

	require.Len(t, confirmed, 1)
	sig := confirmed[0]
	assert.Equal(t, models.SourceModel, sig.Primary.Source)
	assert.Equal(t, first, sig.Primary.Timestamp)
	assert.Equal(t, []models.Source{models.SourceModel, models.SourceCUSUM}, sig.Sources)
	assert.InDelta(t, 0.7*1+0.3*0.8, sig.Confidence, 1e-12)
	// history was short for the first 29 bars only
	assert.Equal(t, 29, h.notifier.count())
	assert.Equal(t, 29, h.metrics.degraded["insufficient_history"])
}

func TestContradictionExpiresImmediately(t *testing.T) {
	cl := &fakeClassifier{dir: models.DirectionUp, conf: 0.8, act: 0.6}
	h := newHarness(t, cl, ConfirmConfig{Window: 30 * time.Minute, CombineWeight: 0.7})

	first := t0.Add(150 * time.Minute)
	var confirmed int
	h.run(t, t0, first.Add(4*time.Minute), flat, ramp(first, time.Minute, -20),
		func(_ models.Candle, out *models.ConfirmedSignal) {
			if out != nil {
				confirmed++
			}
		})

	assert.Zero(t, confirmed)
	assert.Equal(t, models.StatusIdle, h.st.Confirmation.Status)
	assert.Equal(t, 1, h.metrics.status[models.StatusExpired])
}

func TestPendingDropsNewPrimary(t *testing.T) {
	cl := &fakeClassifier{dir: models.DirectionDown, conf: 0.9, act: 0.6}
	h := newHarness(t, cl, ConfirmConfig{Window: time.Hour, CombineWeight: 0.7})

	first := t0.Add(150 * time.Minute)
	h.run(t, t0, first.Add(15*time.Minute), flat, flat, nil)

	require.Equal(t, models.StatusPending, h.st.Confirmation.Status)
	assert.Equal(t, first, h.st.Confirmation.OpenedAt)
	assert.Equal(t, first.Add(time.Hour), h.st.Confirmation.Deadline)
	assert.Equal(t, 3, h.metrics.dropped["pending"])
	assert.Equal(t, 1, h.metrics.status[models.StatusPending])
}

func TestExpiryAtFirstBarAtOrAfterDeadline(t *testing.T) {
	for w := 1; w <= 12; w++ {
		window := time.Duration(w) * time.Minute
		cl := &fakeClassifier{dir: models.DirectionUp, conf: 0.9, act: 0.6}
		h := newHarness(t, cl, ConfirmConfig{Window: window, CombineWeight: 0.7})

		first := t0.Add(150 * time.Minute)
		h.run(t, t0, first, flat, flat, nil)
		require.Equal(t, models.StatusPending, h.st.Confirmation.Status)
		deadline := first.Add(window)

		for ts := first.Add(time.Minute); ts.Before(deadline); ts = ts.Add(time.Minute) {
			h.feed(t, mkBar(models.TF1m, ts, 100))
			require.Equal(t, models.StatusPending, h.st.Confirmation.Status, "w=%d ts=%s", w, ts)
		}
		h.feed(t, mkBar(models.TF1m, deadline, 100))
		assert.NotEqual(t, models.StatusPending, h.st.Confirmation.Status, "w=%d", w)
		assert.Equal(t, 1, h.metrics.status[models.StatusExpired], "w=%d", w)
	}
}

func TestClassifierPrecedenceOverCUSUM(t *testing.T) {
	// model says flat with confidence, so the firing 5m CUSUM is ignored
	cl := &fakeClassifier{dir: models.DirectionNone, conf: 0.9, act: 0.6}
	h := newHarness(t, cl, defaultConfirm())

	shift := t0.Add(200 * time.Minute)
	h.run(t, t0, shift.Add(30*time.Minute), ramp(shift, 5*time.Minute, 100), nil, nil)

	assert.Equal(t, models.StatusIdle, h.st.Confirmation.Status)
	assert.Zero(t, h.metrics.status[models.StatusPending])
	assert.Equal(t, 29, h.notifier.count())
}

func TestCooldownDropsPrimaries(t *testing.T) {
	cl := &fakeClassifier{dir: models.DirectionUp, conf: 0.8, act: 0.6}
	h := newHarness(t, cl, ConfirmConfig{Window: 5 * time.Minute, CombineWeight: 0.7, Cooldown: 20 * time.Minute})

	first := t0.Add(150 * time.Minute)
	h.run(t, t0, first.Add(4*time.Minute), flat, ramp(first, time.Minute, 20), nil)
	require.Equal(t, 1, h.metrics.status[models.StatusConfirmed])
	assert.Equal(t, first.Add(23*time.Minute), h.st.Confirmation.CooldownUntil)

	h.run(t, first.Add(4*time.Minute), first.Add(25*time.Minute), flat, nil, nil)
	assert.Equal(t, 4, h.metrics.dropped["cooldown"])
	assert.Equal(t, models.StatusPending, h.st.Confirmation.Status)
	assert.Equal(t, first.Add(25*time.Minute), h.st.Confirmation.OpenedAt)
}

func TestFallbackEquivalence(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		cl := &fakeClassifier{err: models.ErrModelUnavailable, act: 0.6}
		// a tiny window expires each Pending before the next 5m bar
		h := newHarness(t, cl, ConfirmConfig{Window: time.Second, CombineWeight: 0.7})
		ref, err := cusum.NewDetector(models.TF5m, params5m)
		require.NoError(t, err)
		refState := ref.NewState()

		r := rand.New(rand.NewSource(seed))
		price := 100.0
		var prev models.Candle
		for i := 1; i <= 500; i++ {
			price *= math.Exp(r.NormFloat64() * 0.006)
			b := mkBar(models.TF5m, t0.Add(time.Duration(i)*5*time.Minute), price)
			h.feed(t, b)

			want := models.DirectionNone
			if i > 1 {
				want = ref.Step(testSymbol, &refState, cusum.Observation(prev, b), b.Timestamp).Direction
			}
			prev = b

			if want == models.DirectionNone {
				require.Equal(t, models.StatusIdle, h.st.Confirmation.Status, "seed=%d bar=%d", seed, i)
				continue
			}
			require.Equal(t, models.StatusPending, h.st.Confirmation.Status, "seed=%d bar=%d", seed, i)
			assert.Equal(t, want, h.st.Confirmation.Pending.Direction)
			assert.Equal(t, models.SourceCUSUM, h.st.Confirmation.Pending.Source)
		}
		assert.Equal(t, 500, h.notifier.count())
		assert.Equal(t, 29, h.metrics.degraded["insufficient_history"])
		assert.Equal(t, 471, h.metrics.degraded["model_unavailable"])
		assert.Equal(t, refState, h.st.CUSUM[models.TF5m])
	}
}

func TestOutOfOrderRejected(t *testing.T) {
	cl := &fakeClassifier{err: models.ErrModelUnavailable}
	h := newHarness(t, cl, defaultConfirm())

	h.feed(t, mkBar(models.TF5m, t0.Add(10*time.Minute), 100))
	h.feed(t, mkBar(models.TF1m, t0.Add(10*time.Minute), 100))

	_, err := h.c.OnBar(context.Background(), h.st, mkBar(models.TF1m, t0.Add(9*time.Minute), 100), nil)
	assert.True(t, errors.Is(err, models.ErrOutOfOrder))

	_, err = h.c.OnBar(context.Background(), h.st, mkBar(models.TF1m, t0.Add(10*time.Minute), 100), nil)
	assert.True(t, errors.Is(err, models.ErrOutOfOrder))

	assert.Equal(t, t0.Add(10*time.Minute), h.st.LastEvent)
}

func TestDegradedReason(t *testing.T) {
	assert.Equal(t, "stale_data", DegradedReason(models.ErrStaleData))
	assert.Equal(t, "inference_timeout", DegradedReason(errors.Join(errors.New("x"), models.ErrInferenceTimeout)))
	assert.Equal(t, "below_act_threshold", DegradedReason(errors.New("confidence 0.4 below act threshold")))
}
