package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meshmap/internal/domain"
	"meshmap/internal/service"
)

// Ingestor accepts observations pushed over HTTP (an alternative to MQTT)
type Ingestor interface {
	Ingest(obs domain.PacketObservation) error
}

// Triangulator runs a manual, synchronous position estimation
type Triangulator interface {
	Triangulate(nodeID string) (*domain.EstimateResult, error)
}

// API handles the REST surface of the dashboard
type API struct {
	query         *service.QueryService
	ingestor      Ingestor
	triangulator  Triangulator
	defaultWindow time.Duration
}

// NewAPI creates an API handler
func NewAPI(query *service.QueryService, ingestor Ingestor, triangulator Triangulator, defaultWindow time.Duration) *API {
	if defaultWindow <= 0 {
		defaultWindow = 72 * time.Hour
	}
	return &API{
		query:         query,
		ingestor:      ingestor,
		triangulator:  triangulator,
		defaultWindow: defaultWindow,
	}
}

// Register wires the API routes onto the mux
func (h *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/nodes", h.ListNodes)
	mux.HandleFunc("/api/nodes/positioned", h.ListPositionedNodes)
	mux.HandleFunc("/api/nodes/", h.NodeSubtree)
	mux.HandleFunc("/api/connections", h.ListConnections)
	mux.HandleFunc("/api/stats", h.GetStats)
	mux.HandleFunc("/api/search/node/", h.SearchNodes)
	mux.HandleFunc("/api/observations", h.PostObservation)
	mux.HandleFunc("/healthz", h.Health)
}

// ErrorResponse is the error body shape
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TriangulateResponse is the manual-estimation result body
type TriangulateResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Result  *domain.EstimateResult `json:"result,omitempty"`
}

// ListNodes returns nodes, optionally restricted to a recent window
func (h *API) ListNodes(w http.ResponseWriter, r *http.Request) {
	window := h.window(r, 0)
	writeJSON(w, h.query.Nodes(window), http.StatusOK)
}

// ListPositionedNodes returns only nodes with coordinates, for the map
func (h *API) ListPositionedNodes(w http.ResponseWriter, r *http.Request) {
	window := h.window(r, 0)
	writeJSON(w, h.query.PositionedNodes(window), http.StatusOK)
}

// NodeSubtree dispatches /api/nodes/{id} and /api/nodes/{id}/triangulate
func (h *API) NodeSubtree(w http.ResponseWriter, r *http.Request) {
	rest := extractPathParam(r.URL.Path, "/api/nodes/")
	if rest == "" {
		writeError(w, "Node ID required", "", http.StatusBadRequest)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/triangulate"); ok {
		h.TriangulateNode(w, r, id)
		return
	}
	h.GetNode(w, r, rest)
}

// GetNode returns a single node
func (h *API) GetNode(w http.ResponseWriter, _ *http.Request, id string) {
	node, err := h.query.Node(id)
	if err != nil {
		if errors.Is(err, domain.ErrNodeNotFound) {
			writeError(w, "Node not found", id, http.StatusNotFound)
			return
		}
		log.Printf("Failed to get node %s: %v", id, err)
		writeError(w, "Failed to get node", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, node, http.StatusOK)
}

// TriangulateNode runs a manual position estimation. Estimation failures are
// structured results, not transport errors.
func (h *API) TriangulateNode(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", "POST required", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.triangulator.Triangulate(id)
	switch {
	case err == nil:
		writeJSON(w, TriangulateResponse{
			Success: true,
			Message: "position " + string(result.Quality),
			Result:  result,
		}, http.StatusOK)
	case errors.Is(err, domain.ErrNodeNotFound):
		writeError(w, "Node not found", id, http.StatusNotFound)
	case errors.Is(err, domain.ErrEstimateInFlight):
		writeJSON(w, TriangulateResponse{Success: false, Message: err.Error()}, http.StatusConflict)
	case errors.Is(err, domain.ErrInsufficientReferencePoints),
		errors.Is(err, domain.ErrEstimateSuppressed):
		writeJSON(w, TriangulateResponse{Success: false, Message: err.Error()}, http.StatusOK)
	default:
		log.Printf("Triangulation for %s failed: %v", id, err)
		writeError(w, "Triangulation failed", err.Error(), http.StatusInternalServerError)
	}
}

// ListConnections returns connections within the window, optionally filtered
// by a comma-separated node list
func (h *API) ListConnections(w http.ResponseWriter, r *http.Request) {
	window := h.window(r, h.defaultWindow)

	var filter []string
	if raw := r.URL.Query().Get("nodes"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(strings.TrimPrefix(id, "!")); id != "" {
				filter = append(filter, strings.ToLower(id))
			}
		}
	}

	conns := h.query.Connections(window, filter)
	if conns == nil {
		conns = []domain.Connection{}
	}
	writeJSON(w, conns, http.StatusOK)
}

// GetStats returns the dashboard counters
func (h *API) GetStats(w http.ResponseWriter, r *http.Request) {
	window := h.window(r, h.defaultWindow)
	writeJSON(w, h.query.Stats(window), http.StatusOK)
}

// SearchNodes returns summaries matching the path term
func (h *API) SearchNodes(w http.ResponseWriter, r *http.Request) {
	term := extractPathParam(r.URL.Path, "/api/search/node/")
	if term == "" {
		writeError(w, "Search term required", "", http.StatusBadRequest)
		return
	}
	results := h.query.SearchNodes(term)
	if results == nil {
		results = []domain.NodeSummary{}
	}
	writeJSON(w, results, http.StatusOK)
}

// PostObservation accepts a decoded observation over HTTP
func (h *API) PostObservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", "POST required", http.StatusMethodNotAllowed)
		return
	}

	var obs domain.PacketObservation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ingestor.Ingest(obs); err != nil {
		if errors.Is(err, domain.ErrInvalidObservation) {
			writeError(w, "Observation rejected", err.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.Printf("Failed to ingest observation: %v", err)
		writeError(w, "Failed to ingest observation", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Health is a liveness probe
func (h *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// window parses since_hours; fallback <= 0 means "no limit"
func (h *API) window(r *http.Request, fallback time.Duration) time.Duration {
	raw := r.URL.Query().Get("since_hours")
	if raw == "" {
		return fallback
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		return fallback
	}
	return time.Duration(hours * float64(time.Hour))
}

func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, msg, details string, status int) {
	writeJSON(w, ErrorResponse{Error: msg, Details: details}, status)
}

// extractPathParam pulls the trailing path segment after a route prefix
func extractPathParam(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
}
