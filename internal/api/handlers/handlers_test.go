package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentforge/registry/internal/api"
	"github.com/agentforge/registry/internal/api/handlers"
	"github.com/agentforge/registry/internal/api/middleware"
	"github.com/agentforge/registry/internal/config"
	"github.com/agentforge/registry/internal/registry"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

func acct(b byte) models.AccountID {
	var id models.AccountID
	id[0] = b
	return id
}

type testServer struct {
	srv     *httptest.Server
	owner   models.AccountID
	manager models.AccountID
	drainer models.AccountID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		owner:   acct(0xA0),
		manager: acct(0xA1),
		drainer: acct(0xA2),
	}
	store := state.NewStore()
	reg, err := registry.New(store, registry.Config{
		Name:    "handler-test",
		Owner:   ts.owner,
		Manager: ts.manager,
		Drainer: ts.drainer,
		Emitter: registry.NopEmitter{},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	for _, id := range []models.AccountID{ts.owner, ts.manager, ts.drainer} {
		if err := reg.Fund(id, 10_000_000); err != nil {
			t.Fatalf("Fund() error = %v", err)
		}
	}
	if err := reg.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	cfg := &config.Config{Version: "test"}
	cfg.Telemetry.Enabled = false
	router := api.NewRouter(cfg, handlers.New(reg, cfg.Version))
	ts.srv = httptest.NewServer(router)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, caller models.AccountID, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if !caller.IsZero() {
		req.Header.Set(middleware.CallerHeader, caller.String())
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", models.ZeroAccount, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["status"] != "healthy" {
		t.Errorf("health status = %q", body["status"])
	}

	resp = ts.do(t, http.MethodGet, "/version", models.ZeroAccount, nil)
	body = decode[map[string]string](t, resp)
	if body["version"] != "test" {
		t.Errorf("version = %q", body["version"])
	}
}

func TestCreateServiceOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	svcOwner := acct(0xB0)

	resp := ts.do(t, http.MethodPost, "/api/v1/services", ts.manager, map[string]any{
		"owner":       svcOwner.String(),
		"config_hash": "0101010101010101010101010101010101010101010101010101010101010101",
		"threshold":   1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /services status = %d", resp.StatusCode)
	}
	created := decode[map[string]uint64](t, resp)
	if created["service_id"] != 1 {
		t.Errorf("service_id = %d, want 1", created["service_id"])
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/services/1", models.ZeroAccount, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /services/1 status = %d", resp.StatusCode)
	}
	svc := decode[models.Service](t, resp)
	if svc.Owner != svcOwner || svc.State != models.StatePreRegistration {
		t.Errorf("service = %+v", svc)
	}
}

func TestCreateServiceForbiddenForNonManager(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/api/v1/services", ts.owner, map[string]any{
		"owner":       acct(0xB0).String(),
		"config_hash": "0101010101010101010101010101010101010101010101010101010101010101",
		"threshold":   1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestGetMissingServiceReturns404(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/v1/services/42", models.ZeroAccount, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInvalidCallerHeaderRejected(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/v1/registry", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(middleware.CallerHeader, "not-hex")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFundAndBalance(t *testing.T) {
	ts := newTestServer(t)
	target := acct(0xF0)

	resp := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%s/fund", target), models.ZeroAccount,
		map[string]uint64{"amount": 5000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fund status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/accounts/%s/balance", target), models.ZeroAccount, nil)
	body := decode[map[string]uint64](t, resp)
	if body["balance"] != 5000 {
		t.Errorf("balance = %d, want 5000", body["balance"])
	}
}

func TestWhitelistOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	implID := acct(0xD0)

	resp := ts.do(t, http.MethodPut,
		fmt.Sprintf("/api/v1/multisigs/%s/permission", implID), ts.owner,
		map[string]bool{"allow": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("permission status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/api/v1/multisigs", models.ZeroAccount, nil)
	wl := decode[models.Whitelist](t, resp)
	if len(wl.Multisigs) != 1 || wl.Multisigs[0] != implID {
		t.Errorf("whitelist = %+v", wl)
	}
}
