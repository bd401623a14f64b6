package burnfee

import "testing"

func TestWorkNeededAtHeartbeat(t *testing.T) {
	got := WorkNeeded(1000, 2_000_000, 2_000_000-HeartbeatMS)
	if got != 1000 {
		t.Fatalf("got %d, want 1000 (unchanged at heartbeat)", got)
	}
}

func TestWorkNeededDecreasesWithElapsed(t *testing.T) {
	short := WorkNeeded(1000, 1_000_000+HeartbeatMS, 1_000_000)
	long := WorkNeeded(1000, 1_000_000+4*HeartbeatMS, 1_000_000)
	if long >= short {
		t.Fatalf("work_needed not monotone decreasing: short=%d long=%d", short, long)
	}
}

func TestWorkNeededZeroElapsedSaturates(t *testing.T) {
	got := WorkNeeded(1000, 5000, 5000)
	if got != maxBurnFee {
		t.Fatalf("got %d, want saturating max", got)
	}
	got = WorkNeeded(1000, 4999, 5000)
	if got != maxBurnFee {
		t.Fatalf("backward timestamp: got %d, want saturating max", got)
	}
}

func TestNextBurnFeeFloorsAtOne(t *testing.T) {
	got := NextBurnFee(1, 1_000_000*HeartbeatMS)
	if got != 1 {
		t.Fatalf("got %d, want floor of 1", got)
	}
}
