package cusum

import "TrendConfirm/internal/domain/models"

// MeanTracker is an EWMA estimator of the observation mean. With alpha 0 it
// leaves the reference mean untouched.
type MeanTracker struct {
	alpha float64
}

func NewMeanTracker(alpha float64) *MeanTracker {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &MeanTracker{alpha: alpha}
}

func (m *MeanTracker) Enabled() bool { return m != nil && m.alpha > 0 }

// Observe folds x into the reference mean of st. Call it only on bars that
// did not trigger.
func (m *MeanTracker) Observe(st *models.CUSUMState, x float64) {
	if !m.Enabled() {
		return
	}
	SetReferenceMean(st, m.alpha*x+(1-m.alpha)*st.ReferenceMean)
}
