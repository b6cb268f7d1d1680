package service

import (
	"sort"
	"strings"
	"time"

	"meshmap/internal/domain"
	"meshmap/internal/mesh"
)

// maxSearchResults bounds node search output
const maxSearchResults = 10

// StatsSummary aggregates network-wide counters over a time horizon
type StatsSummary struct {
	TotalNodes        int   `json:"total_nodes"`
	ActiveConnections int   `json:"active_connections"`
	RecentPackets     int64 `json:"recent_packets"`
	NodesWithPosition int   `json:"nodes_with_position"`
}

// QueryService is the read-only aggregation facade consumed by the API layer
type QueryService struct {
	engine *mesh.Engine
}

// NewQueryService creates a query service over the engine's state
func NewQueryService(engine *mesh.Engine) *QueryService {
	return &QueryService{engine: engine}
}

// Nodes returns nodes seen within the window; window <= 0 returns all
func (s *QueryService) Nodes(window time.Duration) []domain.Node {
	nodes := s.engine.Registry().List(window)
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].LastSeen.After(nodes[j].LastSeen)
	})
	return nodes
}

// PositionedNodes returns only nodes with coordinates, for map display
func (s *QueryService) PositionedNodes(window time.Duration) []domain.Node {
	all := s.Nodes(window)
	out := make([]domain.Node, 0, len(all))
	for _, node := range all {
		if node.Position != nil {
			out = append(out, node)
		}
	}
	return out
}

// Node returns a single node by id
func (s *QueryService) Node(id string) (*domain.Node, error) {
	return s.engine.Registry().Get(strings.ToLower(strings.TrimPrefix(id, "!")))
}

// Connections returns connections active within the window, optionally
// restricted to pairs touching at least one of the listed node ids
func (s *QueryService) Connections(window time.Duration, nodeFilter []string) []domain.Connection {
	return s.engine.Links().Query(window, nodeFilter)
}

// Stats computes the dashboard counters over the requested horizon
func (s *QueryService) Stats(window time.Duration) StatsSummary {
	conns := s.engine.Links().Query(window, nil)

	var packets int64
	for _, conn := range conns {
		packets += conn.PacketCount
	}

	positioned := 0
	for _, node := range s.engine.Registry().List(0) {
		if node.Position != nil {
			positioned++
		}
	}

	return StatsSummary{
		TotalNodes:        s.engine.Registry().Count(),
		ActiveConnections: len(conns),
		RecentPackets:     packets,
		NodesWithPosition: positioned,
	}
}

// SearchNodes performs a case-insensitive substring match over id and display
// names. An exact id match sorts first, the rest by most recently seen. At
// most maxSearchResults summaries are returned.
func (s *QueryService) SearchNodes(term string) []domain.NodeSummary {
	term = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(term, "!")))
	if term == "" {
		return nil
	}

	var matches []domain.Node
	for _, node := range s.engine.Registry().List(0) {
		if strings.Contains(strings.ToLower(node.ID), term) ||
			strings.Contains(strings.ToLower(node.LongName), term) ||
			strings.Contains(strings.ToLower(node.ShortName), term) {
			matches = append(matches, node)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		iExact := strings.EqualFold(matches[i].ID, term)
		jExact := strings.EqualFold(matches[j].ID, term)
		if iExact != jExact {
			return iExact
		}
		return matches[i].LastSeen.After(matches[j].LastSeen)
	})

	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}

	out := make([]domain.NodeSummary, 0, len(matches))
	for i := range matches {
		out = append(out, matches[i].Summary())
	}
	return out
}
