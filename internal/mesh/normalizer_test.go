package mesh

import (
	"errors"
	"testing"
	"time"

	"meshmap/internal/domain"
)

func TestNormalize(t *testing.T) {
	t.Run("strips prefix and lowercases ids", func(t *testing.T) {
		n := NewNormalizer()
		obs, err := n.Normalize(domain.PacketObservation{FromID: "!AB12CD34", ToID: "!EF56AB78"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obs.FromID != "ab12cd34" {
			t.Errorf("from id not canonicalized: %q", obs.FromID)
		}
		if obs.ToID != "ef56ab78" {
			t.Errorf("to id not canonicalized: %q", obs.ToID)
		}
	})

	t.Run("defaults zero timestamp to now", func(t *testing.T) {
		n := NewNormalizer()
		before := time.Now()
		obs, err := n.Normalize(domain.PacketObservation{FromID: "aa11", ToID: "bb22"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obs.Timestamp.Before(before) {
			t.Errorf("timestamp not defaulted: %v", obs.Timestamp)
		}
	})

	t.Run("keeps explicit timestamp", func(t *testing.T) {
		n := NewNormalizer()
		ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		obs, err := n.Normalize(domain.PacketObservation{FromID: "aa11", ToID: "bb22", Timestamp: ts})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !obs.Timestamp.Equal(ts) {
			t.Errorf("timestamp rewritten to %v", obs.Timestamp)
		}
	})

	t.Run("rejects broadcast sender and recipient", func(t *testing.T) {
		n := NewNormalizer()
		if _, err := n.Normalize(domain.PacketObservation{FromID: "!FFFFFFFF", ToID: "bb22"}); !errors.Is(err, domain.ErrInvalidObservation) {
			t.Errorf("broadcast sender accepted: %v", err)
		}
		if _, err := n.Normalize(domain.PacketObservation{FromID: "aa11", ToID: "ffffffff"}); !errors.Is(err, domain.ErrInvalidObservation) {
			t.Errorf("broadcast recipient accepted: %v", err)
		}
	})

	t.Run("rejects empty and malformed ids", func(t *testing.T) {
		n := NewNormalizer()
		cases := []domain.PacketObservation{
			{FromID: "", ToID: "bb22"},
			{FromID: "aa11", ToID: ""},
			{FromID: "not-hex!", ToID: "bb22"},
			{FromID: "aa11", ToID: "0123456789abcdef0"},
		}
		for _, c := range cases {
			if _, err := n.Normalize(c); !errors.Is(err, domain.ErrInvalidObservation) {
				t.Errorf("accepted from=%q to=%q: %v", c.FromID, c.ToID, err)
			}
		}
	})

	t.Run("clears unusable gateway without rejecting", func(t *testing.T) {
		n := NewNormalizer()
		for _, gw := range []string{"ffffffff", "not hex"} {
			obs, err := n.Normalize(domain.PacketObservation{FromID: "aa11", ToID: "bb22", GatewayID: gw})
			if err != nil {
				t.Fatalf("gateway %q invalidated packet: %v", gw, err)
			}
			if obs.GatewayID != "" {
				t.Errorf("gateway %q not cleared: %q", gw, obs.GatewayID)
			}
		}
	})

	t.Run("canonicalizes good gateway", func(t *testing.T) {
		n := NewNormalizer()
		obs, err := n.Normalize(domain.PacketObservation{FromID: "aa11", ToID: "bb22", GatewayID: "!CC33DD44"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obs.GatewayID != "cc33dd44" {
			t.Errorf("gateway not canonicalized: %q", obs.GatewayID)
		}
	})

	t.Run("counts rejections", func(t *testing.T) {
		n := NewNormalizer()
		n.Normalize(domain.PacketObservation{FromID: "", ToID: "bb22"})
		n.Normalize(domain.PacketObservation{FromID: "ffffffff", ToID: "bb22"})
		n.Normalize(domain.PacketObservation{FromID: "aa11", ToID: "bb22"})
		if got := n.Dropped(); got != 2 {
			t.Errorf("expected 2 dropped, got %d", got)
		}
	})
}
