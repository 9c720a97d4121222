package handler

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	env := newRelayServer(t, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"GET /", "/", http.StatusOK},
		{"GET /health", "/health", http.StatusOK},
		{"GET /status", "/status", http.StatusOK},
		{"GET /download without url", "/download", http.StatusBadRequest},
		{"GET /github/ without path", "/github/", http.StatusBadRequest},
		{"GET /unknown returns 404", "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.get(t, tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestIndex_ListsAllowedDomains(t *testing.T) {
	env := newRelayServer(t, nil)

	resp := env.get(t, "/")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{"/download?url=GITHUB_URL", "githubusercontent.com", "direct"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("index page missing %q", want)
		}
	}
}
