package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshagent/meshnode/internal/config"
)

func TestQueryFleetNodeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(ExecuteResult{Success: true, Response: "done"})
	}))
	defer srv.Close()

	c := NewClient(nil)
	res := c.QueryFleetNode(context.Background(), config.FleetNode{Name: "a", URL: srv.URL, Token: "secret"}, "hi", "", "")
	if !res.Success || res.Response != "done" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestQueryFleetNodesPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Echo the request path so each result can be matched to its node.
		json.NewEncoder(w).Encode(ExecuteResult{Success: true, Response: r.URL.Path})
	}))
	defer srv.Close()

	c := NewClient(nil)
	nodes := []config.FleetNode{
		{Name: "a", URL: srv.URL + "/a"},
		{Name: "b", URL: srv.URL + "/b"},
		{Name: "c", URL: srv.URL + "/c"},
	}
	results := c.QueryFleetNodes(context.Background(), nodes, "p", "", "")
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		want := "/" + nodes[i].Name + "/v1/fleet/execute"
		if !r.Success || r.Response != want {
			t.Errorf("result %d: got %#v, want response %q", i, r, want)
		}
	}
}

func TestGetFleetHealth(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer up.Close()

	c := NewClient(nil)
	health := c.GetFleetHealth(context.Background(), []config.FleetNode{
		{Name: "up", URL: up.URL},
		{Name: "down", URL: "http://127.0.0.1:1"},
	})
	if !health["up"].Healthy {
		t.Errorf("expected up peer healthy, got %#v", health["up"])
	}
	if health["down"].Healthy {
		t.Errorf("expected down peer unhealthy, got %#v", health["down"])
	}
}

func TestRestartFleetNodeConnectionResetIsSuccess(t *testing.T) {
	if !isConnectionReset(errConnResetLike{}) {
		t.Fatal("expected connection-reset-shaped error to be treated as success")
	}
}

type errConnResetLike struct{}

func (errConnResetLike) Error() string { return "read: connection reset by peer" }
