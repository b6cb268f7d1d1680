package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshmap/internal/domain"
	"meshmap/internal/mesh"
	"meshmap/internal/service"
)

func floatPtr(v float64) *float64 { return &v }

func newTestServer(t *testing.T) (*mesh.Engine, *httptest.Server) {
	t.Helper()
	engine := mesh.NewEngine(nil, mesh.WithAutoEstimateRate(0, 0))
	query := service.NewQueryService(engine)
	api := NewAPI(query, engine, engine, 72*time.Hour)

	mux := http.NewServeMux()
	api.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return engine, srv
}

func seedTriangulatable(t *testing.T, engine *mesh.Engine) {
	t.Helper()
	now := time.Now()
	anchors := []struct {
		id       string
		lat, lon float64
	}{
		{"bb22", 38.70, -9.20},
		{"cc33", 38.70, -9.00},
		{"dd44", 38.80, -9.10},
	}
	for _, a := range anchors {
		if err := engine.Ingest(domain.PacketObservation{
			FromID:    a.id,
			ToID:      "aa11",
			Position:  &domain.Position{Latitude: a.lat, Longitude: a.lon},
			Timestamp: now,
		}); err != nil {
			t.Fatalf("seed anchor %s: %v", a.id, err)
		}
		if err := engine.Ingest(domain.PacketObservation{
			FromID:    "aa11",
			ToID:      a.id,
			SNR:       floatPtr(5),
			Timestamp: now,
		}); err != nil {
			t.Fatalf("seed link to %s: %v", a.id, err)
		}
	}
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestListNodes(t *testing.T) {
	engine, srv := newTestServer(t)
	seedTriangulatable(t, engine)

	resp, err := http.Get(srv.URL + "/api/nodes")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %q", ct)
	}

	var nodes []domain.Node
	decode(t, resp, &nodes)
	if len(nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(nodes))
	}
}

func TestListPositionedNodes(t *testing.T) {
	engine, srv := newTestServer(t)
	seedTriangulatable(t, engine)

	resp, err := http.Get(srv.URL + "/api/nodes/positioned")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var nodes []domain.Node
	decode(t, resp, &nodes)
	if len(nodes) != 3 {
		t.Errorf("expected 3 positioned nodes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.Position == nil {
			t.Errorf("node %s has no position", n.ID)
		}
	}
}

func TestGetNode(t *testing.T) {
	engine, srv := newTestServer(t)
	seedTriangulatable(t, engine)

	t.Run("found", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/nodes/bb22")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: %d", resp.StatusCode)
		}
		var node domain.Node
		decode(t, resp, &node)
		if node.ID != "bb22" || !node.HasConfirmedPosition() {
			t.Errorf("unexpected node: %+v", node)
		}
	})

	t.Run("prefixed id resolves", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/nodes/!bb22")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("not found", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/nodes/dead")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestTriangulateNode(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		engine, srv := newTestServer(t)
		seedTriangulatable(t, engine)

		resp, err := http.Post(srv.URL+"/api/nodes/aa11/triangulate", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: %d", resp.StatusCode)
		}
		var body TriangulateResponse
		decode(t, resp, &body)
		if !body.Success || body.Result == nil {
			t.Fatalf("unexpected body: %+v", body)
		}
		if body.Result.Quality != domain.PositionTriangulated || body.Result.ReferencePoints != 3 {
			t.Errorf("unexpected result: %+v", body.Result)
		}
	})

	t.Run("insufficient anchors", func(t *testing.T) {
		engine, srv := newTestServer(t)
		engine.Ingest(domain.PacketObservation{FromID: "aa11", ToID: "bb22", Timestamp: time.Now()})

		resp, err := http.Post(srv.URL+"/api/nodes/aa11/triangulate", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: %d", resp.StatusCode)
		}
		var body TriangulateResponse
		decode(t, resp, &body)
		if body.Success || body.Result != nil {
			t.Errorf("unexpected body: %+v", body)
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		_, srv := newTestServer(t)
		resp, err := http.Post(srv.URL+"/api/nodes/dead/triangulate", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("get method rejected", func(t *testing.T) {
		_, srv := newTestServer(t)
		resp, err := http.Get(srv.URL + "/api/nodes/aa11/triangulate")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestListConnections(t *testing.T) {
	engine, srv := newTestServer(t)
	seedTriangulatable(t, engine)

	t.Run("all within default window", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/connections")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var conns []domain.Connection
		decode(t, resp, &conns)
		if len(conns) != 6 {
			t.Errorf("expected 6 directed connections, got %d", len(conns))
		}
	})

	t.Run("node filter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/connections?nodes=!BB22")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var conns []domain.Connection
		decode(t, resp, &conns)
		if len(conns) != 2 {
			t.Errorf("expected 2 connections touching bb22, got %d", len(conns))
		}
		for _, c := range conns {
			if !c.Involves("bb22") {
				t.Errorf("connection %s does not touch bb22", c.Key())
			}
		}
	})

	t.Run("empty result is an array", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/connections?nodes=9999")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.HasPrefix(string(raw), "[") {
			t.Errorf("expected JSON array, got %s", raw)
		}
	})
}

func TestGetStats(t *testing.T) {
	engine, srv := newTestServer(t)
	seedTriangulatable(t, engine)

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var stats service.StatsSummary
	decode(t, resp, &stats)
	if stats.TotalNodes != 4 {
		t.Errorf("total nodes: %d", stats.TotalNodes)
	}
	if stats.ActiveConnections != 6 {
		t.Errorf("active connections: %d", stats.ActiveConnections)
	}
	if stats.NodesWithPosition != 3 {
		t.Errorf("positioned nodes: %d", stats.NodesWithPosition)
	}
}

func TestSearchNodes(t *testing.T) {
	engine, srv := newTestServer(t)
	seedTriangulatable(t, engine)

	resp, err := http.Get(srv.URL + "/api/search/node/bb2")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var results []domain.NodeSummary
	decode(t, resp, &results)
	if len(results) != 1 || results[0].ID != "bb22" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestPostObservation(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		engine, srv := newTestServer(t)
		body := `{"from_node": "!AA11", "to_node": "bb22", "snr": 5.5, "rssi": -80}`
		resp, err := http.Post(srv.URL+"/api/observations", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()

		if _, err := engine.Registry().Get("aa11"); err != nil {
			t.Errorf("observation not ingested: %v", err)
		}
	})

	t.Run("invalid observation", func(t *testing.T) {
		_, srv := newTestServer(t)
		body := `{"from_node": "ffffffff", "to_node": "bb22"}`
		resp, err := http.Post(srv.URL+"/api/observations", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("malformed body", func(t *testing.T) {
		_, srv := newTestServer(t)
		resp, err := http.Post(srv.URL+"/api/observations", "application/json", strings.NewReader("{"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("get method rejected", func(t *testing.T) {
		_, srv := newTestServer(t)
		resp, err := http.Get(srv.URL + "/api/observations")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %+v", body)
	}
}
