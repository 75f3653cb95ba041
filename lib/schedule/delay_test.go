package schedule

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func TestRefreshDelay(t *testing.T) {
	tests := []struct {
		name    string
		seconds int64
		floor   time.Duration
		want    time.Duration
	}{
		{"hour", 3600, 5 * time.Second, time.Hour},
		{"at floor", 5, 5 * time.Second, 5 * time.Second},
		{"below floor", 1, 5 * time.Second, 5 * time.Second},
		{"zero", 0, 5 * time.Second, 5 * time.Second},
		{"negative", -30, 5 * time.Second, 5 * time.Second},
		{"default floor", 0, 0, MinRefreshDelay},
		{"custom floor", 10, 30 * time.Second, 30 * time.Second},
		{"overflow", math.MaxInt64, time.Second, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RefreshDelay(tt.seconds, tt.floor); got != tt.want {
				t.Errorf("RefreshDelay(%d, %v) = %v, want %v", tt.seconds, tt.floor, got, tt.want)
			}
		})
	}
}

func TestEpochRefreshWindow(t *testing.T) {
	const (
		epoch  = time.Hour
		buffer = 5 * time.Minute
	)
	base := time.Unix(0, 0).Add(100 * epoch)

	tests := []struct {
		name     string
		now      time.Time
		earliest time.Duration
		latest   time.Duration
	}{
		{"start of epoch", base, 55*time.Minute + 10*time.Second, 59*time.Minute + 50*time.Second},
		{"mid epoch", base.Add(30 * time.Minute), 25*time.Minute + 10*time.Second, 29*time.Minute + 50*time.Second},
		{"exactly at buffer", base.Add(55 * time.Minute), 10 * time.Second, 4*time.Minute + 50*time.Second},
		{"inside buffer", base.Add(58 * time.Minute), 57*time.Minute + 10*time.Second, time.Hour + time.Minute + 50*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			earliest, latest := EpochRefreshWindow(tt.now, epoch, buffer)
			if earliest != tt.earliest || latest != tt.latest {
				t.Errorf("EpochRefreshWindow() = [%v, %v], want [%v, %v]", earliest, latest, tt.earliest, tt.latest)
			}
		})
	}

	if earliest, latest := EpochRefreshWindow(base, 0, buffer); earliest != 0 || latest != 0 {
		t.Errorf("zero epoch length should yield an empty window, got [%v, %v]", earliest, latest)
	}
	if earliest, latest := EpochRefreshWindow(base, epoch, 15*time.Second); latest != earliest {
		t.Errorf("a buffer narrower than the tolerance should collapse, got [%v, %v]", earliest, latest)
	}
}

func TestEpochRefreshDelay(t *testing.T) {
	const (
		epoch  = time.Hour
		buffer = 5 * time.Minute
	)
	now := time.Unix(0, 0).Add(100*epoch + 30*time.Minute)
	earliest, latest := EpochRefreshWindow(now, epoch, buffer)

	tests := []struct {
		name  string
		randN func(int64) int64
		want  time.Duration
	}{
		{"lowest draw", func(int64) int64 { return 0 }, earliest},
		{"highest draw", func(n int64) int64 { return n - 1 }, latest},
		{"middle draw", func(n int64) int64 { return n / 2 }, earliest + 140*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EpochRefreshDelay(now, epoch, buffer, tt.randN); got != tt.want {
				t.Errorf("EpochRefreshDelay() = %v, want %v", got, tt.want)
			}
		})
	}

	rng := rand.New(rand.NewPCG(42, 42))
	seen := make(map[time.Duration]bool)
	for range 2000 {
		d := EpochRefreshDelay(now, epoch, buffer, rng.Int64N)
		if d < earliest || d > latest {
			t.Fatalf("EpochRefreshDelay() = %v outside [%v, %v]", d, earliest, latest)
		}
		if d%time.Second != 0 {
			t.Fatalf("EpochRefreshDelay() = %v is not whole seconds", d)
		}
		seen[d] = true
	}
	if len(seen) < 100 {
		t.Errorf("only %d distinct delays drawn, want a spread across the window", len(seen))
	}
}
