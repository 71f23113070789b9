package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

func snapshotAt(turn types.Color, whiteMs, blackMs int64, last time.Time) types.Clocks {
	return types.Clocks{
		Turn:             turn,
		WhiteRemainingMs: whiteMs,
		BlackRemainingMs: blackMs,
		LastTickAt:       types.Epoch(last),
	}
}

func TestRemainingOnlyDecaysSideToMove(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := snapshotAt(types.White, 60_000, 45_000, base)

	white, black := Remaining(c, base.Add(3*time.Second))
	if white != 57*time.Second {
		t.Fatalf("white: got %v, want 57s", white)
	}
	if black != 45*time.Second {
		t.Fatalf("black should not decay off turn: got %v", black)
	}

	c.Turn = types.Black
	white, black = Remaining(c, base.Add(3*time.Second))
	if white != 60*time.Second || black != 42*time.Second {
		t.Fatalf("got white=%v black=%v", white, black)
	}
}

func TestRemainingFlooredAtZero(t *testing.T) {
	base := time.Now()
	c := snapshotAt(types.White, 1_000, 30_000, base)
	white, _ := Remaining(c, base.Add(10*time.Second))
	if white != 0 {
		t.Fatalf("expected floor at zero, got %v", white)
	}
}

func TestRemainingClockSkewDoesNotInflate(t *testing.T) {
	// lastTickAt in the local future: elapsed clamps to zero.
	base := time.Now()
	c := snapshotAt(types.White, 60_000, 60_000, base.Add(5*time.Second))
	white, black := Remaining(c, base)
	if white != time.Minute || black != time.Minute {
		t.Fatalf("got white=%v black=%v", white, black)
	}
}

func TestRemainingMonotonicBetweenSnapshots(t *testing.T) {
	base := time.Now()
	c := snapshotAt(types.Black, 30_000, 30_000, base)
	prevWhite, prevBlack := Remaining(c, base)
	for i := 1; i <= 40; i++ {
		white, black := Remaining(c, base.Add(time.Duration(i)*250*time.Millisecond))
		if white > prevWhite || black > prevBlack {
			t.Fatalf("remaining increased at tick %d", i)
		}
		if white < 0 || black < 0 {
			t.Fatalf("remaining went negative at tick %d", i)
		}
		prevWhite, prevBlack = white, black
	}
}

func TestFrozenClocksDoNotDecay(t *testing.T) {
	base := time.Now()
	c := snapshotAt(types.White, 12_345, 5_000, base)
	frozen := types.Epoch(base)
	c.FrozenAt = &frozen

	white, black := Remaining(c, base.Add(time.Hour))
	if white != 12_345*time.Millisecond || black != 5_000*time.Millisecond {
		t.Fatalf("frozen clocks decayed: white=%v black=%v", white, black)
	}
	if _, ok := TimedOut(c, base.Add(time.Hour)); ok {
		t.Fatalf("frozen clocks must not report a timeout")
	}
}

func TestTimedOut(t *testing.T) {
	base := time.Now()

	c := snapshotAt(types.White, 2_000, 30_000, base)
	if _, ok := TimedOut(c, base.Add(time.Second)); ok {
		t.Fatalf("no side should be timed out yet")
	}
	color, ok := TimedOut(c, base.Add(3*time.Second))
	if !ok || color != types.White {
		t.Fatalf("want white timed out, got %q ok=%v", color, ok)
	}

	c = snapshotAt(types.Black, 30_000, 1_000, base)
	color, ok = TimedOut(c, base.Add(2*time.Second))
	if !ok || color != types.Black {
		t.Fatalf("want black timed out, got %q ok=%v", color, ok)
	}
}

func TestForfeitGuardFiresOnce(t *testing.T) {
	var g ForfeitGuard
	if !g.TryFire() {
		t.Fatalf("first TryFire must succeed")
	}
	if g.TryFire() {
		t.Fatalf("second TryFire must fail")
	}
	if !g.Fired() {
		t.Fatalf("guard should report fired")
	}
}

func TestForfeitGuardConcurrent(t *testing.T) {
	var g ForfeitGuard
	var wg sync.WaitGroup
	fired := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryFire() {
				fired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fired)
	n := 0
	for range fired {
		n++
	}
	if n != 1 {
		t.Fatalf("guard fired %d times, want exactly 1", n)
	}
}
