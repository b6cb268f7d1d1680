package mesh

import (
	"fmt"
	"log"
	"sync"
	"time"

	"meshmap/internal/domain"
	"meshmap/internal/keylock"
)

// Registry maintains per-node attributes including position and its quality
// tier. It is the single writer of node records; readers get copies. Pointer
// fields inside a node are replaced, never mutated in place, so copies stay
// safe to hand out.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*domain.Node
	locks *keylock.KeyLock
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*domain.Node),
		locks: keylock.NewKeyLock(),
	}
}

// EnsureExists creates a placeholder node with unknown position quality if
// the id is absent. It is idempotent and reports whether a node was created.
func (r *Registry) EnsureExists(id string) bool {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; ok {
		return false
	}
	r.nodes[id] = domain.NewNode(id)
	nodesTracked.Set(float64(len(r.nodes)))
	return true
}

// ApplyObservation merges non-nil fields of the update into the node and
// advances last_seen if the timestamp is newer. A self-reported position
// always overwrites whatever was there and confirms the fix; this is the only
// path to the confirmed tier.
func (r *Registry) ApplyObservation(id string, up domain.NodeUpdate, ts time.Time) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	node, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}

	if up.LongName != nil {
		node.LongName = *up.LongName
	}
	if up.ShortName != nil {
		node.ShortName = *up.ShortName
	}
	if up.HardwareModel != nil {
		hw := *up.HardwareModel
		node.HardwareModel = &hw
		node.HardwareName = domain.HardwareModelName(&hw)
	}
	if up.Role != nil {
		role := *up.Role
		node.Role = &role
	}
	if up.FirmwareVersion != nil {
		node.FirmwareVersion = *up.FirmwareVersion
	}
	if up.BatteryLevel != nil {
		level := *up.BatteryLevel
		node.BatteryLevel = &level
	}
	if up.Voltage != nil {
		v := *up.Voltage
		node.Voltage = &v
	}
	if up.SNR != nil {
		snr := *up.SNR
		node.SNR = &snr
	}
	if up.RSSI != nil {
		rssi := *up.RSSI
		node.RSSI = &rssi
	}
	if up.Position != nil {
		pos := *up.Position
		node.Position = &pos
		node.PositionQuality = domain.PositionConfirmed
	}
	if ts.After(node.LastSeen) {
		node.LastSeen = ts
	}

	return nil
}

// ApplyEstimate writes an estimated or triangulated position. A confirmed GPS
// fix is never downgraded: the write is rejected with ErrEstimateSuppressed.
func (r *Registry) ApplyEstimate(id string, pos domain.Position, quality domain.PositionQuality) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	node, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}
	if node.PositionQuality == domain.PositionConfirmed {
		log.Printf("Estimate for %s suppressed: node has a confirmed fix", id)
		return domain.ErrEstimateSuppressed
	}

	pos.Altitude = nil
	node.Position = &pos
	node.PositionQuality = quality
	return nil
}

// Touch advances a node's last_seen without changing anything else
func (r *Registry) Touch(id string, ts time.Time) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if node, ok := r.lookup(id); ok && ts.After(node.LastSeen) {
		node.LastSeen = ts
	}
}

// Get returns a copy of a node
func (r *Registry) Get(id string) (*domain.Node, error) {
	unlock := r.locks.RLock(id)
	defer unlock()

	node, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}
	copied := *node
	return &copied, nil
}

// List returns copies of nodes seen within the given window. A zero or
// negative window returns every node.
func (r *Registry) List(window time.Duration) []domain.Node {
	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		node, err := r.Get(id)
		if err != nil {
			continue
		}
		if !cutoff.IsZero() && node.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, *node)
	}
	return out
}

// Count returns the number of tracked nodes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Restore reinstates a persisted node at startup
func (r *Registry) Restore(node domain.Node) {
	unlock := r.locks.Lock(node.ID)
	defer unlock()

	copied := node
	r.mu.Lock()
	r.nodes[node.ID] = &copied
	nodesTracked.Set(float64(len(r.nodes)))
	r.mu.Unlock()
}

// lookup must run under the node's key lock
func (r *Registry) lookup(id string) (*domain.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	return node, ok
}
