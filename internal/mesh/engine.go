package mesh

import (
	"context"
	"errors"
	"log"

	"golang.org/x/time/rate"

	"meshmap/internal/domain"
)

// ChangeNotifier receives fire-and-forget notifications after successful
// mutations. Implementations must be reentrant-safe and must not block the
// calling mutation path.
type ChangeNotifier interface {
	NodeChanged(id string)
	ConnectionChanged(fromID, toID string)
}

// NopNotifier discards all notifications
type NopNotifier struct{}

func (NopNotifier) NodeChanged(string) {}

func (NopNotifier) ConnectionChanged(string, string) {}

// Store mirrors engine state to durable storage. Failures are logged and
// never interrupt ingestion; the in-memory model stays authoritative.
type Store interface {
	UpsertNode(ctx context.Context, node domain.Node) error
	UpsertConnection(ctx context.Context, agg ConnectionAggregate) error
}

// Engine is the topology and position inference engine: it turns a stream of
// packet observations into the node registry and link table, and triggers
// position estimation for nodes without a GPS fix.
type Engine struct {
	normalizer *Normalizer
	registry   *Registry
	links      *Links
	estimator  *Estimator

	notifier ChangeNotifier
	store    Store

	// autoEstimate throttles the best-effort estimation trigger; under load
	// triggers are skipped, manual requests still run synchronously.
	autoEstimate *rate.Limiter
}

// Option configures an Engine
type Option func(*Engine)

// WithStore attaches a durable store
func WithStore(store Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithTxPower overrides the assumed transmit power for distance derivation
func WithTxPower(dbm float64) Option {
	return func(e *Engine) { e.estimator.txPowerDBm = dbm }
}

// WithAutoEstimateRate overrides the automatic estimation trigger budget
func WithAutoEstimateRate(perSecond float64, burst int) Option {
	return func(e *Engine) { e.autoEstimate = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewEngine builds an engine with its own registry, link table and estimator
func NewEngine(notifier ChangeNotifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	registry := NewRegistry()
	links := NewLinks()
	e := &Engine{
		normalizer:   NewNormalizer(),
		registry:     registry,
		links:        links,
		estimator:    NewEstimator(registry, links, defaultTxPowerDBm),
		notifier:     notifier,
		autoEstimate: rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the node registry
func (e *Engine) Registry() *Registry { return e.registry }

// Links exposes the link table
func (e *Engine) Links() *Links { return e.links }

// Normalizer exposes the observation normalizer
func (e *Engine) Normalizer() *Normalizer { return e.normalizer }

// Ingest processes one packet observation. Invalid observations are dropped
// and counted; the returned error reports the reason but is never fatal to
// the stream.
func (e *Engine) Ingest(obs domain.PacketObservation) error {
	obs, err := e.normalizer.Normalize(obs)
	if err != nil {
		return err
	}
	observationsTotal.Inc()

	e.ensureNode(obs.FromID)
	e.ensureNode(obs.ToID)

	// Telemetry, names and a self-reported position all describe the sender.
	attrs := obs.Attrs
	if obs.Position != nil {
		attrs.Position = obs.Position
	}
	attrs.SNR = obs.SNR
	attrs.RSSI = obs.RSSI
	if err := e.registry.ApplyObservation(obs.FromID, attrs, obs.Timestamp); err != nil {
		log.Printf("Apply observation for %s: %v", obs.FromID, err)
	}
	e.registry.Touch(obs.ToID, obs.Timestamp)
	e.persistNode(obs.FromID)
	e.persistNode(obs.ToID)
	e.notifier.NodeChanged(obs.FromID)
	e.notifier.NodeChanged(obs.ToID)

	if obs.FromID != obs.ToID {
		e.recordLink(obs.FromID, obs.ToID, obs.SNR, obs.RSSI, obs)
	}

	// A gateway id distinct from the sender is direct RF reception evidence
	// and yields its own link.
	if obs.GatewayID != "" && obs.GatewayID != obs.FromID && obs.GatewayID != obs.ToID {
		e.ensureNode(obs.GatewayID)
		e.registry.Touch(obs.GatewayID, obs.Timestamp)
		e.persistNode(obs.GatewayID)
		e.notifier.NodeChanged(obs.GatewayID)
		e.recordLink(obs.FromID, obs.GatewayID, obs.SNR, obs.RSSI, obs)
	}

	e.maybeEstimate(obs.FromID)
	e.maybeEstimate(obs.ToID)

	return nil
}

// Triangulate runs a synchronous, manually requested position estimation
func (e *Engine) Triangulate(nodeID string) (*domain.EstimateResult, error) {
	id, err := canonicalNodeID(nodeID)
	if err != nil {
		return nil, domain.ErrNodeNotFound
	}
	result, err := e.estimator.Estimate(id)
	if err != nil {
		return nil, err
	}
	e.persistNode(id)
	e.notifier.NodeChanged(id)
	return result, nil
}

// Restore reloads persisted state into the in-memory model at startup
func (e *Engine) Restore(nodes []domain.Node, conns []ConnectionAggregate) {
	for _, node := range nodes {
		e.registry.Restore(node)
	}
	for _, agg := range conns {
		e.links.Restore(agg)
	}
	log.Printf("Restored %d nodes and %d connections", len(nodes), len(conns))
}

func (e *Engine) ensureNode(id string) {
	if e.registry.EnsureExists(id) {
		e.persistNode(id)
		e.notifier.NodeChanged(id)
	}
}

func (e *Engine) recordLink(fromID, toID string, snr *float64, rssi *int, obs domain.PacketObservation) {
	e.links.Record(fromID, toID, snr, rssi, obs.Timestamp)
	if e.store != nil {
		if agg, ok := e.links.Aggregate(fromID, toID); ok {
			if err := e.store.UpsertConnection(context.Background(), agg); err != nil {
				log.Printf("Persist connection %s>%s: %v", fromID, toID, err)
			}
		}
	}
	e.notifier.ConnectionChanged(fromID, toID)
}

func (e *Engine) persistNode(id string) {
	if e.store == nil {
		return
	}
	node, err := e.registry.Get(id)
	if err != nil {
		return
	}
	if err := e.store.UpsertNode(context.Background(), *node); err != nil {
		log.Printf("Persist node %s: %v", id, err)
	}
}

// maybeEstimate fires a best-effort background estimation when a node without
// a confirmed fix has gathered enough anchors. Skipped under load; duplicate
// flights are rejected by the estimator.
func (e *Engine) maybeEstimate(id string) {
	node, err := e.registry.Get(id)
	if err != nil || node.HasConfirmedPosition() {
		return
	}
	if !e.autoEstimate.Allow() {
		return
	}
	if e.estimator.AnchorCount(id) < 2 {
		return
	}
	go func() {
		if _, err := e.estimator.Estimate(id); err != nil {
			if !errors.Is(err, domain.ErrEstimateInFlight) &&
				!errors.Is(err, domain.ErrInsufficientReferencePoints) {
				log.Printf("Auto-estimate for %s: %v", id, err)
			}
			return
		}
		e.persistNode(id)
		e.notifier.NodeChanged(id)
	}()
}
