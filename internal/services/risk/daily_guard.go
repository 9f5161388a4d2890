package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosedDay marks a PnL report for a day before the guard's current day.
var ErrClosedDay = errors.New("pnl report for a closed day")

// DailyLossGuard accumulates realised PnL per UTC day and trips once the
// loss reaches maxLoss of the account balance.
type DailyLossGuard struct {
	mu      sync.Mutex
	maxLoss float64
	balance float64
	day     time.Time
	pnl     float64
}

func NewDailyLossGuard(maxLoss, balance float64) *DailyLossGuard {
	return &DailyLossGuard{maxLoss: maxLoss, balance: balance}
}

// roll moves the guard forward to ts's day. The day never moves back; it
// reports false when ts falls on an earlier day.
func (g *DailyLossGuard) roll(ts time.Time) bool {
	day := ts.UTC().Truncate(24 * time.Hour)
	switch {
	case day.After(g.day):
		g.day = day
		g.pnl = 0
		return true
	case day.Before(g.day):
		return false
	}
	return true
}

// Record adds a realised PnL amount at ts. Reports for a closed day are
// refused with ErrClosedDay and leave the current day untouched.
func (g *DailyLossGuard) Record(pnl float64, ts time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.roll(ts) {
		return fmt.Errorf("%w: %s is before %s", ErrClosedDay,
			ts.UTC().Format("2006-01-02"), g.day.Format("2006-01-02"))
	}
	g.pnl += pnl
	return nil
}

// SetBalance updates the balance the limit is computed from.
func (g *DailyLossGuard) SetBalance(balance float64) {
	g.mu.Lock()
	g.balance = balance
	g.mu.Unlock()
}

// Breached reports whether new positions must be blocked on ts's day. A ts
// before the current day reads the current day.
func (g *DailyLossGuard) Breached(ts time.Time) bool {
	if g == nil || g.maxLoss <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll(ts)
	return g.pnl <= -g.balance*g.maxLoss
}

// Status returns the current day and its PnL.
func (g *DailyLossGuard) Status() (day time.Time, pnl, limit float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.day, g.pnl, g.balance * g.maxLoss
}
