package domain

// EstimateResult is the outcome of a successful position estimation
type EstimateResult struct {
	Quality         PositionQuality `json:"quality"`
	Position        Position        `json:"position"`
	ReferencePoints int             `json:"reference_points"`
}
