package domain

import "time"

// Connection represents an observed directed RF link between two nodes.
// The direction follows packet routing: FromID transmitted, ToID received.
type Connection struct {
	FromID      string    `json:"from_node"`
	ToID        string    `json:"to_node"`
	PacketCount int64     `json:"packet_count"`
	AvgSNR      *float64  `json:"avg_snr,omitempty"`
	AvgRSSI     *float64  `json:"avg_rssi,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// Key returns the identity of the connection's ordered pair
func (c *Connection) Key() string {
	return PairKey(c.FromID, c.ToID)
}

// PairKey builds the identity of an ordered node pair
func PairKey(fromID, toID string) string {
	return fromID + ">" + toID
}

// Involves checks if this connection touches the given node id
func (c *Connection) Involves(nodeID string) bool {
	return c.FromID == nodeID || c.ToID == nodeID
}

// OtherEnd returns the node id on the other end of this connection
func (c *Connection) OtherEnd(nodeID string) string {
	if c.FromID == nodeID {
		return c.ToID
	}
	return c.FromID
}

// HasSignal reports whether at least one signal-carrying sample was recorded
func (c *Connection) HasSignal() bool {
	return c.AvgSNR != nil || c.AvgRSSI != nil
}
