// Package allowlist holds the set of target domains the relay may fetch from.
package allowlist

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// List is a concurrency-safe domain allowlist. Replace swaps the whole set
// atomically so in-flight checks never see a partial update.
type List struct {
	domains atomic.Pointer[[]string]
}

// New returns a List containing the given domains.
func New(domains []string) *List {
	l := &List{}
	l.Replace(domains)
	return l
}

// Replace installs a new domain set.
func (l *List) Replace(domains []string) {
	norm := normalize(domains)
	l.domains.Store(&norm)
}

// Domains returns a copy of the current domain set.
func (l *List) Domains() []string {
	return slices.Clone(*l.domains.Load())
}

// AllowsURL reports whether rawURL's host is an allowed domain or a subdomain of one.
// Unparsable URLs and URLs without a host are never allowed.
func (l *List) AllowsURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return l.AllowsHost(u.Hostname())
}

// AllowsHost reports whether host matches an allowed domain, case-insensitively.
func (l *List) AllowsHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	for _, d := range *l.domains.Load() {
		if host == d {
			return true
		}
		// IP literals only ever match exactly.
		if net.ParseIP(d) == nil && strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// fileFormat is the on-disk layout of an allowlist file:
//
//	domains:
//	  - github.com
//	  - githubusercontent.com
type fileFormat struct {
	Domains []string `yaml:"domains"`
}

// LoadFile reads a YAML allowlist file.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("allowlist: read %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("allowlist: parse %s: %w", path, err)
	}
	domains := normalize(f.Domains)
	if len(domains) == 0 {
		return nil, fmt.Errorf("allowlist: %s lists no domains", path)
	}
	return domains, nil
}

func normalize(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		d = strings.TrimPrefix(d, "*.")
		if d == "" || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}
