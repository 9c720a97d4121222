package allowlist

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestAllowsURL(t *testing.T) {
	l := New([]string{"github.com", "GitHubUserContent.com.", "127.0.0.1"})

	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/acme/tool/releases/download/v1/tool.tgz", true},
		{"https://GITHUB.COM/acme/tool", true},
		{"https://objects.githubusercontent.com/x", true},
		{"https://raw.githubusercontent.com/acme/tool/main/README.md", true},
		{"http://127.0.0.1:8080/file.bin", true},
		{"https://evil.example.com/x", false},
		{"https://github.com.evil.net/x", false},
		{"https://notgithub.com/x", false},
		{"https://evil.example.com/?u=github.com", false},
		{"http://10.127.0.0.1/x", false},
		{"github.com/acme/tool", false},
		{"://bad", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := l.AllowsURL(tt.url); got != tt.want {
				t.Errorf("AllowsURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestReplace(t *testing.T) {
	l := New([]string{"github.com"})
	l.Replace([]string{" Example.org ", "*.example.net", "example.org"})

	want := []string{"example.org", "example.net"}
	if got := l.Domains(); !slices.Equal(got, want) {
		t.Errorf("Domains() = %v, want %v", got, want)
	}
	if l.AllowsHost("github.com") {
		t.Error("github.com should no longer be allowed")
	}
	if !l.AllowsHost("cdn.example.net") {
		t.Error("cdn.example.net should be allowed via wildcard entry")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, "domains:\n  - github.com\n  - codeload.github.com\n")
	domains, err := LoadFile(good)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !slices.Equal(domains, []string{"github.com", "codeload.github.com"}) {
		t.Errorf("LoadFile() = %v", domains)
	}

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "domains: []\n")
	if _, err := LoadFile(empty); err == nil {
		t.Error("LoadFile() expected error for empty domain list")
	}

	broken := filepath.Join(dir, "broken.yaml")
	writeFile(t, broken, "domains: [github.com\n")
	if _, err := LoadFile(broken); err == nil {
		t.Error("LoadFile() expected error for malformed YAML")
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile() expected error for missing file")
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.yaml")
	writeFile(t, path, "domains: [github.com]\n")

	l := New(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(path, l, logger)

	var reloads, failures int
	w.OnReload = func(err error) {
		reloads++
		if err != nil {
			failures++
		}
	}

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !l.AllowsHost("github.com") {
		t.Fatal("github.com should be allowed after initial load")
	}

	writeFile(t, path, "domains: [")
	if err := w.Reload(); err == nil {
		t.Fatal("Reload() expected error for malformed file")
	}
	if !l.AllowsHost("github.com") {
		t.Error("failed reload must keep previous domains")
	}
	if reloads != 2 || failures != 1 {
		t.Errorf("reloads = %d, failures = %d, want 2 and 1", reloads, failures)
	}
}

func TestWatcher_RunPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.yaml")
	writeFile(t, path, "domains: [github.com]\n")

	l := New([]string{"github.com"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(path, l, logger)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !l.AllowsHost("example.org") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("allowlist was not reloaded after file change")
		}
		// Rewrite on every iteration: the watcher may not be registered yet.
		writeFile(t, path, "domains: [example.org]\n")
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}
