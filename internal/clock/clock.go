// Package clock derives live per-side remaining time from a server clock
// snapshot plus the local wall clock. The server snapshot is never mutated;
// every reading is recomputed from it so duplicate or late ticks are harmless.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

// Remaining computes both sides' live remaining time at the given instant.
// Only the side to move decays; once the server froze the clocks the raw
// snapshot values are returned unmodified. Both values are floored at zero.
func Remaining(c types.Clocks, now time.Time) (white, black time.Duration) {
	whiteMs, blackMs := c.WhiteRemainingMs, c.BlackRemainingMs
	if !c.Frozen() {
		last := c.LastTickAt
		if last == 0 {
			last = types.Epoch(now)
		}
		elapsed := types.Epoch(now) - last
		if elapsed < 0 {
			elapsed = 0
		}
		switch c.Turn {
		case types.White:
			whiteMs -= elapsed
		case types.Black:
			blackMs -= elapsed
		}
	}
	return floorZero(whiteMs), floorZero(blackMs)
}

// TimedOut reports which color, if any, has reached zero. White is checked
// first, matching the order results are reconciled in.
func TimedOut(c types.Clocks, now time.Time) (types.Color, bool) {
	white, black := Remaining(c, now)
	if c.Frozen() {
		return "", false
	}
	if white <= 0 {
		return types.White, true
	}
	if black <= 0 {
		return types.Black, true
	}
	return "", false
}

func floorZero(ms int64) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ForfeitGuard makes the time-forfeit notification one-shot for a session.
// Many clock ticks may observe the same zero-crossing; only the first wins.
type ForfeitGuard struct {
	fired atomic.Bool
}

// TryFire returns true exactly once.
func (g *ForfeitGuard) TryFire() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Fired reports whether the notification was already sent.
func (g *ForfeitGuard) Fired() bool { return g.fired.Load() }
