// Package proxyconf resolves the forward proxy used for upstream downloads.
package proxyconf

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/proxy"
	"golang.org/x/net/http/httpproxy"
)

// Descriptor names the forward proxies for plain and TLS targets.
// The zero value means direct connections.
type Descriptor struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// Resolve reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY from the process environment.
// Unset variables take their value from fallback. An empty HTTPS proxy inherits the
// HTTP proxy. Resolve never fails; malformed values surface when a request is made.
func Resolve(fallback Descriptor) Descriptor {
	return resolve(proxy.DetectProxies(), fallback)
}

func resolve(env proxy.Settings, fallback Descriptor) Descriptor {
	d := Descriptor{
		HTTPProxy:  firstNonEmpty(env.Http, fallback.HTTPProxy),
		HTTPSProxy: firstNonEmpty(env.Https, fallback.HTTPSProxy),
		NoProxy:    firstNonEmpty(env.NoProxy, fallback.NoProxy),
	}
	if d.HTTPSProxy == "" {
		d.HTTPSProxy = d.HTTPProxy
	}
	return d
}

// Enabled reports whether any forward proxy is configured.
func (d Descriptor) Enabled() bool {
	return d.HTTPProxy != "" || d.HTTPSProxy != ""
}

// ProxyFunc returns a function suitable for http.Transport.Proxy, or nil when no
// proxy is configured. Hosts matched by NoProxy, and loopback hosts, connect directly.
func (d Descriptor) ProxyFunc() func(*http.Request) (*url.URL, error) {
	if !d.Enabled() {
		return nil
	}
	cfg := &httpproxy.Config{
		HTTPProxy:  d.HTTPProxy,
		HTTPSProxy: d.HTTPSProxy,
		NoProxy:    d.NoProxy,
	}
	pf := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return pf(req.URL)
	}
}

// Redacted returns a copy with proxy passwords masked, for logs and status output.
func (d Descriptor) Redacted() Descriptor {
	return Descriptor{
		HTTPProxy:  redact(d.HTTPProxy),
		HTTPSProxy: redact(d.HTTPSProxy),
		NoProxy:    d.NoProxy,
	}
}

// Sanitize masks the credentials of the configured proxies wherever they appear in s.
func (d Descriptor) Sanitize(s string) string {
	for _, p := range []string{d.HTTPProxy, d.HTTPSProxy} {
		if p == "" {
			continue
		}
		if r := redact(p); r != p {
			s = strings.ReplaceAll(s, p, r)
		}
	}
	return s
}

func redact(raw string) string {
	if raw == "" || !strings.Contains(raw, "@") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Scheme-less "user:pass@host:port" does not parse as a URL with a host.
		if at := strings.LastIndex(raw, "@"); at >= 0 {
			return "xxxxx" + raw[at:]
		}
		return raw
	}
	return u.Redacted()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
