package mesh

import (
	"fmt"
	"log"
	"math"
	"sync"

	"meshmap/internal/domain"
)

const (
	// defaultTxPowerDBm is the assumed LoRa transmit power for the path-loss
	// inversion. Uncalibrated; overridable via configuration.
	defaultTxPowerDBm = -10.0

	// minDistanceMeters / maxDistanceMeters clamp the signal-derived distance
	minDistanceMeters = 1.0
	maxDistanceMeters = 50000.0

	// snrReferenceRSSI synthesizes an RSSI from SNR-only links so both
	// readings feed the same monotonic model
	snrReferenceRSSI = -90.0

	// solverMaxIterations caps the multilateration solve; the best solution
	// found so far is kept if convergence is not reached
	solverMaxIterations = 50
	solverConvergenceM  = 0.5
)

// anchor is a confirmed-position neighbor usable as a reference point
type anchor struct {
	id       string
	lat, lon float64
	dist     float64
}

// Estimator computes positions for nodes that never reported a GPS fix, by
// multilateration against confirmed-position neighbors. Estimation is
// single-flight per target: a duplicate request while one is running is
// rejected, not queued.
type Estimator struct {
	registry *Registry
	links    *Links

	txPowerDBm float64

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEstimator creates an estimator over the given registry and link table
func NewEstimator(registry *Registry, links *Links, txPowerDBm float64) *Estimator {
	if txPowerDBm == 0 {
		txPowerDBm = defaultTxPowerDBm
	}
	return &Estimator{
		registry:   registry,
		links:      links,
		txPowerDBm: txPowerDBm,
		inflight:   make(map[string]struct{}),
	}
}

// Estimate computes and stores a position estimate for the target node.
// Failure modes are structured: ErrNodeNotFound, ErrEstimateInFlight,
// ErrEstimateSuppressed, and ErrInsufficientReferencePoints (fewer than two
// usable anchors); none of them mutate state.
func (e *Estimator) Estimate(targetID string) (*domain.EstimateResult, error) {
	if err := e.begin(targetID); err != nil {
		estimatesTotal.WithLabelValues("in_flight").Inc()
		return nil, err
	}
	defer e.end(targetID)

	node, err := e.registry.Get(targetID)
	if err != nil {
		estimatesTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if node.HasConfirmedPosition() {
		estimatesTotal.WithLabelValues("suppressed").Inc()
		return nil, domain.ErrEstimateSuppressed
	}

	anchors := e.gatherAnchors(targetID)
	if len(anchors) < 2 {
		estimatesTotal.WithLabelValues("insufficient").Inc()
		return nil, fmt.Errorf("%w: %d usable anchor(s) for %s, need at least 2",
			domain.ErrInsufficientReferencePoints, len(anchors), targetID)
	}

	var pos domain.Position
	var quality domain.PositionQuality
	if len(anchors) == 2 {
		pos = twoAnchorEstimate(anchors[0], anchors[1])
		quality = domain.PositionEstimated
	} else {
		pos = multilaterate(anchors)
		quality = domain.PositionTriangulated
	}

	if err := e.registry.ApplyEstimate(targetID, pos, quality); err != nil {
		estimatesTotal.WithLabelValues("suppressed").Inc()
		return nil, err
	}

	estimatesTotal.WithLabelValues(string(quality)).Inc()
	log.Printf("Estimated position for %s: lat=%.6f lon=%.6f quality=%s anchors=%d",
		targetID, pos.Latitude, pos.Longitude, quality, len(anchors))

	return &domain.EstimateResult{
		Quality:         quality,
		Position:        pos,
		ReferencePoints: len(anchors),
	}, nil
}

// AnchorCount returns how many usable anchors the target currently has
func (e *Estimator) AnchorCount(targetID string) int {
	return len(e.gatherAnchors(targetID))
}

func (e *Estimator) begin(targetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[targetID]; busy {
		return fmt.Errorf("%w: %s", domain.ErrEstimateInFlight, targetID)
	}
	e.inflight[targetID] = struct{}{}
	return nil
}

func (e *Estimator) end(targetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, targetID)
}

// gatherAnchors collects confirmed-position neighbors with signal data on the
// link. Only ground truth is used as a reference: chaining off earlier
// estimates would accumulate error. When both link directions exist for the
// same neighbor, the shorter derived distance wins (the stronger reading).
func (e *Estimator) gatherAnchors(targetID string) []anchor {
	byID := make(map[string]anchor)
	for _, conn := range e.links.Neighbors(targetID) {
		neighborID := conn.OtherEnd(targetID)
		if neighborID == targetID {
			continue
		}
		dist, ok := e.signalDistance(&conn)
		if !ok {
			continue
		}
		neighbor, err := e.registry.Get(neighborID)
		if err != nil || !neighbor.HasConfirmedPosition() {
			continue
		}
		if prev, seen := byID[neighborID]; seen && prev.dist <= dist {
			continue
		}
		byID[neighborID] = anchor{
			id:   neighborID,
			lat:  neighbor.Position.Latitude,
			lon:  neighbor.Position.Longitude,
			dist: dist,
		}
	}

	anchors := make([]anchor, 0, len(byID))
	for _, a := range byID {
		anchors = append(anchors, a)
	}
	return anchors
}

// signalDistance converts a link's aggregated signal quality into an
// approximate distance in meters via free-space path-loss inversion for the
// 915 MHz band. The mapping is monotonic (weaker signal, larger distance) and
// always positive and finite. Links without any signal data are unusable.
func (e *Estimator) signalDistance(conn *domain.Connection) (float64, bool) {
	var rssi float64
	switch {
	case conn.AvgRSSI != nil:
		rssi = *conn.AvgRSSI
	case conn.AvgSNR != nil:
		rssi = snrReferenceRSSI + 2.0**conn.AvgSNR
	default:
		return 0, false
	}

	pathLoss := e.txPowerDBm - rssi
	if pathLoss <= 0 {
		return minDistanceMeters, true
	}

	dist := math.Pow(10, (pathLoss-32.44)/20)
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		return 0, false
	}
	return math.Min(math.Max(dist, minDistanceMeters), maxDistanceMeters), true
}

// twoAnchorEstimate places the target on the segment between the two anchors,
// weighted by inverse distance so it sits nearer the stronger-signal anchor.
func twoAnchorEstimate(a, b anchor) domain.Position {
	wa := 1.0 / math.Max(a.dist, minDistanceMeters)
	wb := 1.0 / math.Max(b.dist, minDistanceMeters)
	sum := wa + wb
	return domain.Position{
		Latitude:  (a.lat*wa + b.lat*wb) / sum,
		Longitude: (a.lon*wa + b.lon*wb) / sum,
	}
}

// multilaterate solves the weighted least-squares problem: find the point
// minimizing sum w_i * (|x - a_i| - d_i)^2 over all anchors, with w_i = 1/d_i^2.
// Damped Gauss-Newton on a local planar projection, starting from the
// inverse-distance weighted centroid. Iterations are capped; the best
// solution seen is kept if the solve does not converge.
func multilaterate(anchors []anchor) domain.Position {
	// Weighted centroid doubles as projection origin and starting point.
	var latSum, lonSum, wSum float64
	for _, a := range anchors {
		w := 1.0 / math.Max(a.dist, minDistanceMeters)
		latSum += a.lat * w
		lonSum += a.lon * w
		wSum += w
	}
	startLat := latSum / wSum
	startLon := lonSum / wSum

	plane := domain.NewLocalPlane(startLat, startLon)

	type point struct{ x, y, dist, weight float64 }
	pts := make([]point, len(anchors))
	for i, a := range anchors {
		x, y := plane.ToXY(a.lat, a.lon)
		d := math.Max(a.dist, minDistanceMeters)
		pts[i] = point{x: x, y: y, dist: d, weight: 1.0 / (d * d)}
	}

	cost := func(x, y float64) float64 {
		var c float64
		for _, p := range pts {
			r := math.Hypot(x-p.x, y-p.y)
			diff := r - p.dist
			c += p.weight * diff * diff
		}
		return c
	}

	x, y := 0.0, 0.0
	bestX, bestY := x, y
	bestCost := cost(x, y)
	damping := 1e-6

	for iter := 0; iter < solverMaxIterations; iter++ {
		// Sitting on an anchor leaves the residual gradient undefined;
		// nudge off before accumulating so the whole step sees one iterate.
		for _, p := range pts {
			if math.Hypot(x-p.x, y-p.y) < 1e-6 {
				x += 1.0
				break
			}
		}

		// Normal equations for the 2x2 Gauss-Newton step.
		var a11, a12, a22, b1, b2 float64
		for _, p := range pts {
			r := math.Hypot(x-p.x, y-p.y)
			jx := (x - p.x) / r
			jy := (y - p.y) / r
			res := r - p.dist

			a11 += p.weight * jx * jx
			a12 += p.weight * jx * jy
			a22 += p.weight * jy * jy
			b1 -= p.weight * jx * res
			b2 -= p.weight * jy * res
		}

		a11 += damping
		a22 += damping

		det := a11*a22 - a12*a12
		if math.Abs(det) < 1e-12 {
			// Degenerate geometry (collinear or coincident anchors); the
			// weighted centroid is the best defensible answer.
			break
		}

		stepX := (b1*a22 - b2*a12) / det
		stepY := (b2*a11 - b1*a12) / det
		x += stepX
		y += stepY

		if c := cost(x, y); c < bestCost {
			bestCost = c
			bestX, bestY = x, y
		}

		if math.Hypot(stepX, stepY) < solverConvergenceM {
			break
		}
	}

	lat, lon := plane.ToLatLon(bestX, bestY)
	return domain.Position{Latitude: lat, Longitude: lon}
}
