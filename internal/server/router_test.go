package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/supervisor"
)

func testRouter(token string, command CommandFunc) *Router {
	status := func() supervisor.Status {
		return supervisor.Status{State: supervisor.StateRunning, PID: 1234, Uptime: time.Minute}
	}
	if command == nil {
		command = func(ctx context.Context, line string) (string, error) { return "ok: " + line, nil }
	}
	return NewRouter(status, command, "/api", token)
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzNoAuth(t *testing.T) {
	h := testRouter("secret", nil).Handler()
	if w := do(t, h, http.MethodGet, "/api/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

func TestStatusReturnsSnapshot(t *testing.T) {
	h := testRouter("", nil).Handler()
	w := do(t, h, http.MethodGet, "/api/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st supervisor.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != supervisor.StateRunning || st.PID != 1234 {
		t.Errorf("snapshot = %+v", st)
	}
}

func TestBearerTokenEnforced(t *testing.T) {
	h := testRouter("secret", nil).Handler()
	if w := do(t, h, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/status", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/status", "secret", ""); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", w.Code)
	}
}

func TestCommandDispatch(t *testing.T) {
	var got string
	h := testRouter("", func(ctx context.Context, line string) (string, error) {
		got = line
		return "saved", nil
	}).Handler()

	w := do(t, h, http.MethodPost, "/api/command", "", `{"line":"server.save"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if got != "server.save" {
		t.Errorf("dispatched line = %q", got)
	}
	var resp commandResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "saved" {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestCommandValidation(t *testing.T) {
	h := testRouter("", nil).Handler()
	if w := do(t, h, http.MethodPost, "/api/command", "", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/command", "", `{"line":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank line: status = %d", w.Code)
	}
}

func TestCommandFailureMapsToBadGateway(t *testing.T) {
	h := testRouter("", func(ctx context.Context, line string) (string, error) {
		return "", errors.New("no running child")
	}).Handler()
	if w := do(t, h, http.MethodPost, "/api/command", "", `{"line":"quit"}`); w.Code != http.StatusBadGateway {
		t.Errorf("status = %d", w.Code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	h := testRouter("", nil).Handler()
	w := do(t, h, http.MethodGet, "/api/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}
