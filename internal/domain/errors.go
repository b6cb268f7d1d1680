package domain

import "errors"

var (
	// ErrNodeNotFound is returned when a node id is not in the registry
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidObservation marks an observation dropped by the normalizer
	// (malformed id, broadcast endpoint). Never fatal to the ingest stream.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrInsufficientReferencePoints is returned when fewer than two usable
	// anchors exist for a position estimate. No state is mutated.
	ErrInsufficientReferencePoints = errors.New("insufficient reference points")

	// ErrEstimateSuppressed is returned when an estimate would overwrite a
	// confirmed GPS fix. The write is a no-op.
	ErrEstimateSuppressed = errors.New("estimate suppressed: position is confirmed")

	// ErrEstimateInFlight is returned when an estimation for the same node is
	// already running. The duplicate request is rejected, not queued.
	ErrEstimateInFlight = errors.New("estimation already in progress")
)
