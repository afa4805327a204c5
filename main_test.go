package main

import (
	"design-editor/handlers/websocket"
	"design-editor/notify"
	"design-editor/stores/memory"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAllowOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"https://127.0.0.1", true},
		{"http://[::1]:3000", true},
		{"tauri://localhost", true},
		{"https://example.com", false},
		{"tauri://example.com", false},
		{"", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := allowOrigin(nil, tt.origin); got != tt.want {
			t.Errorf("allowOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestSetupRouter(t *testing.T) {
	hub := notify.NewHub()
	collab := websocket.NewCollab(hub)
	defer collab.Close()
	r := setupRouter(memory.NewStore(), hub, collab)

	tests := []struct {
		method, target, body string
		wantStatus           int
	}{
		{http.MethodGet, "/api/v1/documents/", "", http.StatusOK},
		{http.MethodPost, "/api/v1/documents/", `{"name":"routed"}`, http.StatusCreated},
		{http.MethodGet, "/api/active", "", http.StatusOK},
		{http.MethodGet, "/api/v1/documents/missing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s %s: got %d, want %d", tt.method, tt.target, rec.Code, tt.wantStatus)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	hub := notify.NewHub()
	collab := websocket.NewCollab(hub)
	defer collab.Close()
	r := setupRouter(memory.NewStore(), hub, collab)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
