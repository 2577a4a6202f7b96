// Unit tests for the metrics HTTP endpoint
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, method, path string, auth func(*http.Request)) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != nil {
		auth(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return res, string(body)
}

func TestServerMetrics(t *testing.T) {
	sm := NewSensorMetrics()
	sm.Drain()
	s := NewServer(sm, DefaultServerConfig(), nil)

	res, body := get(t, s.Handler(), http.MethodGet, "/metrics", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if !strings.Contains(body, "imu_fifo_drains_total 1") {
		t.Errorf("body missing drain counter:\n%s", body)
	}

	res, _ = get(t, s.Handler(), http.MethodPost, "/metrics", nil)
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", res.StatusCode)
	}
}

func TestServerReady(t *testing.T) {
	ready := false
	s := NewServer(NewSensorMetrics(), DefaultServerConfig(), func() bool { return ready })

	res, _ := get(t, s.Handler(), http.MethodGet, "/ready", nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
	ready = true
	res, _ = get(t, s.Handler(), http.MethodGet, "/ready", nil)
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	res, _ = get(t, s.Handler(), http.MethodGet, "/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", res.StatusCode)
	}
}

func TestServerAuth(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Username, cfg.Password = "admin", "secret"
	s := NewServer(NewSensorMetrics(), cfg, nil)

	res, _ := get(t, s.Handler(), http.MethodGet, "/metrics", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", res.StatusCode)
	}
	res, _ = get(t, s.Handler(), http.MethodGet, "/metrics", func(r *http.Request) {
		r.SetBasicAuth("admin", "secret")
	})
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
}
