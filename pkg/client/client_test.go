package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Status{State: "running", PID: 99})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/api", Token: "tok"})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 99, st.PID)
}

func TestCommandSendsLineAndReadsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Line string `json:"line"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Line != "server.save" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "saved"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	reply, err := c.Command(context.Background(), "server.save")
	require.NoError(t, err)
	assert.Equal(t, "saved", reply)
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no running child"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Command(context.Background(), "quit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running child")
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	require.NoError(t, New(Config{BaseURL: srv.URL}).Healthy(context.Background()))
}
