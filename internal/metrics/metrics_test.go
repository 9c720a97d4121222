package metrics

import (
	"errors"
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Verify our custom metrics exist by incrementing them and gathering again.
	m.RequestsTotal.WithLabelValues("GET", "200", "/download").Inc()
	m.RelayBytes.Add(1024)

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"github_relay_http_requests_total":   false,
		"github_relay_bytes_forwarded_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestObserveAllowlistReload(t *testing.T) {
	m := New()
	m.ObserveAllowlistReload(nil)
	m.ObserveAllowlistReload(nil)
	m.ObserveAllowlistReload(errors.New("parse failure"))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "github_relay_allowlist_reloads_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" {
					got[lp.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	if got["ok"] != 2 || got["error"] != 1 {
		t.Errorf("reload counters = %v, want ok=2 error=1", got)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/download", "/download"},
		{"/github/acme/tool/releases/download/v1/tool.tgz", "/github"},
		{"/status", "/status"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/unknown", "other"},
		{"/downloads", "other"},
		{"/githubx/foo", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
