package mesh

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"meshmap/internal/domain"
)

// Normalizer validates and canonicalizes inbound packet observations.
// It is a pure transform: rejected observations are counted and dropped,
// never raised as fatal.
type Normalizer struct {
	dropped atomic.Int64
}

// NewNormalizer creates a Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize canonicalizes node ids and validates the observation. It returns
// a wrapped domain.ErrInvalidObservation when the observation must be dropped.
func (n *Normalizer) Normalize(obs domain.PacketObservation) (domain.PacketObservation, error) {
	fromID, err := canonicalNodeID(obs.FromID)
	if err != nil {
		return obs, n.reject("bad_from", fmt.Errorf("%w: from_node %q: %v", domain.ErrInvalidObservation, obs.FromID, err))
	}
	toID, err := canonicalNodeID(obs.ToID)
	if err != nil {
		return obs, n.reject("bad_to", fmt.Errorf("%w: to_node %q: %v", domain.ErrInvalidObservation, obs.ToID, err))
	}
	if fromID == domain.BroadcastID {
		return obs, n.reject("broadcast_from", fmt.Errorf("%w: from_node is the broadcast id", domain.ErrInvalidObservation))
	}
	if toID == domain.BroadcastID {
		return obs, n.reject("broadcast_to", fmt.Errorf("%w: to_node is the broadcast id", domain.ErrInvalidObservation))
	}

	obs.FromID = fromID
	obs.ToID = toID

	// A malformed or broadcast gateway id never invalidates the packet, it
	// just stops being usable as reception evidence.
	if obs.GatewayID != "" {
		gwID, err := canonicalNodeID(obs.GatewayID)
		if err != nil || gwID == domain.BroadcastID {
			obs.GatewayID = ""
		} else {
			obs.GatewayID = gwID
		}
	}

	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	return obs, nil
}

// Dropped returns how many observations have been rejected so far
func (n *Normalizer) Dropped() int64 {
	return n.dropped.Load()
}

func (n *Normalizer) reject(reason string, err error) error {
	n.dropped.Add(1)
	observationsDropped.WithLabelValues(reason).Inc()
	return err
}

// canonicalNodeID strips the identity prefix and lowercases a hex node id
func canonicalNodeID(id string) (string, error) {
	id = strings.TrimPrefix(id, "!")
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", fmt.Errorf("empty id")
	}
	if len(id) > 16 {
		return "", fmt.Errorf("id too long")
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("non-hex character %q", c)
		}
	}
	return id, nil
}
