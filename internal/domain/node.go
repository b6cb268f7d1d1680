package domain

import "time"

// PositionQuality classifies how a node's position was obtained
type PositionQuality string

const (
	// PositionUnknown means no coordinates are known for the node
	PositionUnknown PositionQuality = "unknown"
	// PositionEstimated means the position was derived from exactly two anchors
	PositionEstimated PositionQuality = "estimated"
	// PositionTriangulated means the position was solved from three or more anchors
	PositionTriangulated PositionQuality = "triangulated"
	// PositionConfirmed means the node self-reported a GPS fix
	PositionConfirmed PositionQuality = "confirmed"
)

// Position is a geographic coordinate. Altitude is optional; estimates never
// carry one.
type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// Node represents a mesh radio device observed on the network
type Node struct {
	ID              string          `json:"node_id"`
	LongName        string          `json:"long_name,omitempty"`
	ShortName       string          `json:"short_name,omitempty"`
	HardwareModel   *int            `json:"hardware_model,omitempty"`
	HardwareName    string          `json:"hardware_name,omitempty"`
	Role            *int            `json:"role,omitempty"`
	FirmwareVersion string          `json:"firmware_version,omitempty"`
	Position        *Position       `json:"position,omitempty"`
	PositionQuality PositionQuality `json:"position_quality"`
	BatteryLevel    *int            `json:"battery_level,omitempty"`
	Voltage         *float64        `json:"voltage,omitempty"`
	SNR             *float64        `json:"snr,omitempty"`
	RSSI            *int            `json:"rssi,omitempty"`
	LastSeen        time.Time       `json:"last_seen"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewNode creates a placeholder node for an id seen for the first time
func NewNode(id string) *Node {
	now := time.Now()
	return &Node{
		ID:              id,
		PositionQuality: PositionUnknown,
		LastSeen:        now,
		CreatedAt:       now,
	}
}

// HasConfirmedPosition reports whether the node carries a self-reported GPS fix
func (n *Node) HasConfirmedPosition() bool {
	return n.Position != nil && n.PositionQuality == PositionConfirmed
}

// NodeUpdate is a typed partial update merged into a node field-by-field.
// Nil fields are left untouched.
type NodeUpdate struct {
	LongName        *string   `json:"long_name,omitempty"`
	ShortName       *string   `json:"short_name,omitempty"`
	HardwareModel   *int      `json:"hardware_model,omitempty"`
	Role            *int      `json:"role,omitempty"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	BatteryLevel    *int      `json:"battery_level,omitempty"`
	Voltage         *float64  `json:"voltage,omitempty"`
	SNR             *float64  `json:"snr,omitempty"`
	RSSI            *int      `json:"rssi,omitempty"`
	Position        *Position `json:"-"`
}

// IsZero reports whether the update carries no fields at all
func (u NodeUpdate) IsZero() bool {
	return u.LongName == nil && u.ShortName == nil && u.HardwareModel == nil &&
		u.Role == nil && u.FirmwareVersion == nil && u.BatteryLevel == nil &&
		u.Voltage == nil && u.SNR == nil && u.RSSI == nil && u.Position == nil
}

// NodeSummary is the trimmed search-result view of a node
type NodeSummary struct {
	ID              string          `json:"node_id"`
	LongName        string          `json:"long_name,omitempty"`
	ShortName       string          `json:"short_name,omitempty"`
	Position        *Position       `json:"position,omitempty"`
	PositionQuality PositionQuality `json:"position_quality"`
	LastSeen        time.Time       `json:"last_seen"`
}

// Summary derives the search-result view from a node
func (n *Node) Summary() NodeSummary {
	return NodeSummary{
		ID:              n.ID,
		LongName:        n.LongName,
		ShortName:       n.ShortName,
		Position:        n.Position,
		PositionQuality: n.PositionQuality,
		LastSeen:        n.LastSeen,
	}
}
