package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phnahes/can-gateway/internal/diff"
	"github.com/phnahes/can-gateway/internal/gateway"
)

func TestHandleChannels_NilBusesReturnsEmpty(t *testing.T) {
	s := New(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["buses"] != nil {
		t.Fatalf("expected nil buses list, got %#v", body["buses"])
	}
}

func TestHandleGatewayConfig_NilReportsDisabled(t *testing.T) {
	s := New(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/config", nil)
	s.Router().ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["enabled"] != false {
		t.Fatalf("expected enabled=false, got %#v", body)
	}
}

func TestHandleGatewayConfig_ReportsRuleCounts(t *testing.T) {
	cfg := &gateway.Config{
		Enabled:               true,
		LoopPreventionEnabled: true,
		MaxHops:               1,
		Routes:                []gateway.Route{{Source: "CAN1", Destination: "CAN2", Enabled: true}},
		BlockRules:            []gateway.BlockRule{{CANID: 1, Channel: "CAN1", Enabled: true}},
	}
	s := New(nil, nil, cfg, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/config", nil)
	s.Router().ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["enabled"] != true {
		t.Fatalf("expected enabled=true, got %#v", body)
	}
	if body["block_rules"].(float64) != 1 {
		t.Fatalf("expected block_rules=1, got %#v", body["block_rules"])
	}
}

func TestRequestIDMiddleware_GeneratesIDWhenAbsent(t *testing.T) {
	s := New(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	s.Router().ServeHTTP(rr, req)

	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id header")
	}
}

func TestRequestIDMiddleware_EchoesCallerSuppliedID(t *testing.T) {
	s := New(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	req.Header.Set(RequestIDHeader, "caller-supplied-id")
	s.Router().ServeHTTP(rr, req)

	if got := rr.Header().Get(RequestIDHeader); got != "caller-supplied-id" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestHandleDiffStats_ReportsEngineStatistics(t *testing.T) {
	eng := diff.NewEngine(diff.NewConfig())
	s := New(nil, nil, nil, eng)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/diff/stats", nil)
	s.Router().ServeHTTP(rr, req)

	var stats diff.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Enabled {
		t.Fatal("expected default diff config to be disabled")
	}
}
