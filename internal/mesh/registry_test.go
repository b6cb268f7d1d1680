package mesh

import (
	"errors"
	"testing"
	"time"

	"meshmap/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestRegistryEnsureExists(t *testing.T) {
	r := NewRegistry()

	if created := r.EnsureExists("aa11"); !created {
		t.Error("expected created=true on first call")
	}
	if created := r.EnsureExists("aa11"); created {
		t.Error("expected created=false on repeat call")
	}

	node, err := r.Get("aa11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.PositionQuality != domain.PositionUnknown {
		t.Errorf("placeholder quality: got %q", node.PositionQuality)
	}
	if node.Position != nil {
		t.Error("placeholder node has a position")
	}
}

func TestRegistryApplyObservation(t *testing.T) {
	// Ahead of the placeholder's creation stamp, so last_seen assertions
	// are deterministic.
	now := time.Now().Add(time.Second)

	t.Run("merges only present fields", func(t *testing.T) {
		r := NewRegistry()
		r.EnsureExists("aa11")
		hw := 9
		if err := r.ApplyObservation("aa11", domain.NodeUpdate{
			LongName:      strPtr("Alpha Station"),
			HardwareModel: &hw,
		}, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := r.ApplyObservation("aa11", domain.NodeUpdate{
			ShortName: strPtr("ALFA"),
		}, now.Add(time.Minute)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		node, _ := r.Get("aa11")
		if node.LongName != "Alpha Station" {
			t.Errorf("long name lost: %q", node.LongName)
		}
		if node.ShortName != "ALFA" {
			t.Errorf("short name missing: %q", node.ShortName)
		}
		if node.HardwareName != "RAK4631" {
			t.Errorf("hardware name not resolved: %q", node.HardwareName)
		}
	})

	t.Run("reported position confirms the fix", func(t *testing.T) {
		r := NewRegistry()
		r.EnsureExists("aa11")
		alt := 120.0
		pos := domain.Position{Latitude: 38.72, Longitude: -9.14, Altitude: &alt}
		if err := r.ApplyObservation("aa11", domain.NodeUpdate{Position: &pos}, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		node, _ := r.Get("aa11")
		if node.PositionQuality != domain.PositionConfirmed {
			t.Errorf("expected confirmed, got %q", node.PositionQuality)
		}
		if node.Position == nil || node.Position.Latitude != 38.72 {
			t.Errorf("position not stored: %+v", node.Position)
		}
		if node.Position.Altitude == nil || *node.Position.Altitude != 120 {
			t.Errorf("altitude not stored: %v", node.Position.Altitude)
		}
	})

	t.Run("reported position overwrites an estimate", func(t *testing.T) {
		r := NewRegistry()
		r.EnsureExists("aa11")
		r.ApplyEstimate("aa11", domain.Position{Latitude: 40, Longitude: -8}, domain.PositionEstimated)

		pos := domain.Position{Latitude: 38.72, Longitude: -9.14}
		r.ApplyObservation("aa11", domain.NodeUpdate{Position: &pos}, now)

		node, _ := r.Get("aa11")
		if node.PositionQuality != domain.PositionConfirmed {
			t.Errorf("expected confirmed, got %q", node.PositionQuality)
		}
		if node.Position.Latitude != 38.72 {
			t.Errorf("estimate survived: %+v", node.Position)
		}
	})

	t.Run("last_seen never moves backward", func(t *testing.T) {
		r := NewRegistry()
		r.EnsureExists("aa11")
		r.ApplyObservation("aa11", domain.NodeUpdate{}, now)
		r.ApplyObservation("aa11", domain.NodeUpdate{LongName: strPtr("late")}, now.Add(-time.Hour))

		node, _ := r.Get("aa11")
		if !node.LastSeen.Equal(now) {
			t.Errorf("last_seen regressed to %v", node.LastSeen)
		}
		if node.LongName != "late" {
			t.Error("stale observation attributes dropped")
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		r := NewRegistry()
		if err := r.ApplyObservation("missing", domain.NodeUpdate{}, now); !errors.Is(err, domain.ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
	})
}

func TestRegistryApplyEstimate(t *testing.T) {
	t.Run("writes estimate without altitude", func(t *testing.T) {
		r := NewRegistry()
		r.EnsureExists("aa11")
		alt := 50.0
		err := r.ApplyEstimate("aa11", domain.Position{Latitude: 39, Longitude: -8.5, Altitude: &alt}, domain.PositionTriangulated)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		node, _ := r.Get("aa11")
		if node.PositionQuality != domain.PositionTriangulated {
			t.Errorf("expected triangulated, got %q", node.PositionQuality)
		}
		if node.Position.Altitude != nil {
			t.Error("estimate carried an altitude")
		}
	})

	t.Run("never downgrades a confirmed fix", func(t *testing.T) {
		r := NewRegistry()
		r.EnsureExists("aa11")
		pos := domain.Position{Latitude: 38.72, Longitude: -9.14}
		r.ApplyObservation("aa11", domain.NodeUpdate{Position: &pos}, time.Now())

		err := r.ApplyEstimate("aa11", domain.Position{Latitude: 0, Longitude: 0}, domain.PositionTriangulated)
		if !errors.Is(err, domain.ErrEstimateSuppressed) {
			t.Fatalf("expected ErrEstimateSuppressed, got %v", err)
		}

		node, _ := r.Get("aa11")
		if node.PositionQuality != domain.PositionConfirmed || node.Position.Latitude != 38.72 {
			t.Errorf("confirmed fix disturbed: %q %+v", node.PositionQuality, node.Position)
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		r := NewRegistry()
		err := r.ApplyEstimate("missing", domain.Position{}, domain.PositionEstimated)
		if !errors.Is(err, domain.ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
	})
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.EnsureExists("aa11")

	node, _ := r.Get("aa11")
	node.LongName = "mutated"

	fresh, _ := r.Get("aa11")
	if fresh.LongName == "mutated" {
		t.Error("caller mutation leaked into the registry")
	}
}

func TestRegistryList(t *testing.T) {
	// Touch never moves last_seen backward, so stale nodes are planted
	// through Restore, which writes the timestamp as given.
	r := NewRegistry()
	now := time.Now()
	r.Restore(domain.Node{ID: "aa11", PositionQuality: domain.PositionUnknown, LastSeen: now})
	r.Restore(domain.Node{ID: "bb22", PositionQuality: domain.PositionUnknown, LastSeen: now.Add(-48 * time.Hour)})
	r.Restore(domain.Node{ID: "cc33", PositionQuality: domain.PositionUnknown, LastSeen: now.Add(-10 * 24 * time.Hour)})

	if got := len(r.List(24 * time.Hour)); got != 1 {
		t.Errorf("24h window: expected 1, got %d", got)
	}
	if got := len(r.List(72 * time.Hour)); got != 2 {
		t.Errorf("72h window: expected 2, got %d", got)
	}
	if got := len(r.List(0)); got != 3 {
		t.Errorf("no window: expected 3, got %d", got)
	}
}

func TestTouchNeverMovesBackward(t *testing.T) {
	r := NewRegistry()
	now := time.Now().Add(time.Second)
	r.EnsureExists("aa11")
	r.Touch("aa11", now)
	r.Touch("aa11", now.Add(-time.Hour))

	node, _ := r.Get("aa11")
	if !node.LastSeen.Equal(now) {
		t.Errorf("last_seen regressed to %v", node.LastSeen)
	}
}

func TestRegistryRestore(t *testing.T) {
	r := NewRegistry()
	pos := domain.Position{Latitude: 41.15, Longitude: -8.62}
	r.Restore(domain.Node{ID: "aa11", LongName: "Porto GW", Position: &pos, PositionQuality: domain.PositionConfirmed})

	node, err := r.Get("aa11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.LongName != "Porto GW" || !node.HasConfirmedPosition() {
		t.Errorf("restored node incomplete: %+v", node)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 node, got %d", r.Count())
	}
}
