package domain

import "time"

// BroadcastID is the reserved all-nodes destination. It never names a real
// device and is rejected by the normalizer.
const BroadcastID = "ffffffff"

// PacketObservation is a single decoded radio packet as delivered by the
// upstream decoder. It is transient: the engine consumes it and keeps only
// the aggregates.
type PacketObservation struct {
	FromID    string     `json:"from_node"`
	ToID      string     `json:"to_node"`
	GatewayID string     `json:"gateway_id,omitempty"`
	SNR       *float64   `json:"snr,omitempty"`
	RSSI      *int       `json:"rssi,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Position  *Position  `json:"reported_position,omitempty"`
	Attrs     NodeUpdate `json:"node_attrs,omitempty"`
}

// HasSignal reports whether the observation carries any signal reading
func (o *PacketObservation) HasSignal() bool {
	return o.SNR != nil || o.RSSI != nil
}
