package mesh

import (
	"sync"
	"time"

	"meshmap/internal/domain"
	"meshmap/internal/keylock"
)

// linkState is the mutable aggregate for one directed node pair. Running
// means are kept as sum/count so that observations without a signal reading
// never perturb the average.
type linkState struct {
	fromID      string
	toID        string
	packetCount int64
	snrSum      float64
	snrCount    int64
	rssiSum     float64
	rssiCount   int64
	lastSeen    time.Time
}

func (s *linkState) snapshot() domain.Connection {
	conn := domain.Connection{
		FromID:      s.fromID,
		ToID:        s.toID,
		PacketCount: s.packetCount,
		LastSeen:    s.lastSeen,
	}
	if s.snrCount > 0 {
		avg := s.snrSum / float64(s.snrCount)
		conn.AvgSNR = &avg
	}
	if s.rssiCount > 0 {
		avg := s.rssiSum / float64(s.rssiCount)
		conn.AvgRSSI = &avg
	}
	return conn
}

// Links maintains per-pair connection statistics. The table mutex only guards
// the map structure; each record is mutated and read under its pair lock, so
// unrelated pairs never contend.
type Links struct {
	mu    sync.RWMutex
	links map[string]*linkState
	locks *keylock.KeyLock
}

// NewLinks creates an empty link table
func NewLinks() *Links {
	return &Links{
		links: make(map[string]*linkState),
		locks: keylock.NewKeyLock(),
	}
}

// Record upserts the connection keyed by the observation's (from, to) pair.
// Out-of-order observations still update counts and averages but never move
// last_seen backward. It returns true when the pair was seen for the first time.
func (l *Links) Record(fromID, toID string, snr *float64, rssi *int, ts time.Time) bool {
	key := domain.PairKey(fromID, toID)
	unlock := l.locks.Lock(key)
	defer unlock()

	l.mu.Lock()
	st, ok := l.links[key]
	if !ok {
		st = &linkState{fromID: fromID, toID: toID}
		l.links[key] = st
		connectionsTracked.Set(float64(len(l.links)))
	}
	l.mu.Unlock()

	st.packetCount++
	if snr != nil {
		st.snrSum += *snr
		st.snrCount++
	}
	if rssi != nil {
		st.rssiSum += float64(*rssi)
		st.rssiCount++
	}
	if ts.After(st.lastSeen) {
		st.lastSeen = ts
	}

	return !ok
}

// Query returns connections whose last_seen falls within the given window.
// A zero or negative window means no time filter. When nodeFilter is given,
// only connections touching at least one listed id are returned. Callers
// must not rely on result ordering.
func (l *Links) Query(window time.Duration, nodeFilter []string) []domain.Connection {
	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	var filter map[string]struct{}
	if len(nodeFilter) > 0 {
		filter = make(map[string]struct{}, len(nodeFilter))
		for _, id := range nodeFilter {
			filter[id] = struct{}{}
		}
	}

	var out []domain.Connection
	for _, key := range l.keys() {
		conn, ok := l.read(key)
		if !ok {
			continue
		}
		if !cutoff.IsZero() && conn.LastSeen.Before(cutoff) {
			continue
		}
		if filter != nil {
			_, fromOK := filter[conn.FromID]
			_, toOK := filter[conn.ToID]
			if !fromOK && !toOK {
				continue
			}
		}
		out = append(out, conn)
	}
	return out
}

// Neighbors returns every connection touching the given node, in both
// directions, regardless of age.
func (l *Links) Neighbors(nodeID string) []domain.Connection {
	var out []domain.Connection
	for _, key := range l.keys() {
		conn, ok := l.read(key)
		if !ok || !conn.Involves(nodeID) {
			continue
		}
		out = append(out, conn)
	}
	return out
}

// Count returns the number of tracked pairs
func (l *Links) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.links)
}

func (l *Links) keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.links))
	for key := range l.links {
		keys = append(keys, key)
	}
	return keys
}

func (l *Links) read(key string) (domain.Connection, bool) {
	unlock := l.locks.RLock(key)
	defer unlock()

	l.mu.RLock()
	st, ok := l.links[key]
	l.mu.RUnlock()
	if !ok {
		return domain.Connection{}, false
	}
	return st.snapshot(), true
}

// ConnectionAggregate is the exact persisted form of a link record. Unlike
// domain.Connection it keeps sums and sample counts so restored averages
// continue incrementally without drift.
type ConnectionAggregate struct {
	FromID      string
	ToID        string
	PacketCount int64
	SNRSum      float64
	SNRCount    int64
	RSSISum     float64
	RSSICount   int64
	LastSeen    time.Time
}

func (s *linkState) aggregate() ConnectionAggregate {
	return ConnectionAggregate{
		FromID:      s.fromID,
		ToID:        s.toID,
		PacketCount: s.packetCount,
		SNRSum:      s.snrSum,
		SNRCount:    s.snrCount,
		RSSISum:     s.rssiSum,
		RSSICount:   s.rssiCount,
		LastSeen:    s.lastSeen,
	}
}

// Aggregate returns the persisted form of one pair's record
func (l *Links) Aggregate(fromID, toID string) (ConnectionAggregate, bool) {
	key := domain.PairKey(fromID, toID)
	unlock := l.locks.RLock(key)
	defer unlock()

	l.mu.RLock()
	st, ok := l.links[key]
	l.mu.RUnlock()
	if !ok {
		return ConnectionAggregate{}, false
	}
	return st.aggregate(), true
}

// Restore reinstates a persisted connection aggregate at startup
func (l *Links) Restore(agg ConnectionAggregate) {
	key := domain.PairKey(agg.FromID, agg.ToID)
	unlock := l.locks.Lock(key)
	defer unlock()

	st := &linkState{
		fromID:      agg.FromID,
		toID:        agg.ToID,
		packetCount: agg.PacketCount,
		snrSum:      agg.SNRSum,
		snrCount:    agg.SNRCount,
		rssiSum:     agg.RSSISum,
		rssiCount:   agg.RSSICount,
		lastSeen:    agg.LastSeen,
	}

	l.mu.Lock()
	l.links[key] = st
	connectionsTracked.Set(float64(len(l.links)))
	l.mu.Unlock()
}
