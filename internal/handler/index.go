package handler

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"github-relay-go/internal/allowlist"
	"github-relay-go/internal/proxyconf"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>GitHub download relay</title>
<style>
body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
pre { background: #f4f4f4; padding: 15px; border-radius: 5px; overflow-x: auto; }
.info { background: #e7f3ff; padding: 10px; border-left: 4px solid #2196F3; margin: 10px 0; }
</style>
</head>
<body>
<h1>GitHub download relay</h1>
<div class="info">
<p><b>Version:</b> {{.Version}}</p>
<p><b>Proxy:</b> {{if .Proxy}}{{.Proxy}}{{else}}direct{{end}}</p>
{{if .Domains}}<p><b>Allowed domains:</b> {{range $i, $d := .Domains}}{{if $i}}, {{end}}{{$d}}{{end}}</p>{{end}}
</div>
<h2>Usage</h2>
<pre>GET /download?url=GITHUB_URL
GET /github/OWNER/REPO/releases/download/TAG/FILE</pre>
<h2>Example</h2>
<pre>curl -L "http://HOST/download?url=https://github.com/ollama/ollama/releases/download/v0.13.3/ollama-linux-amd64.tgz" -o ollama.tgz</pre>
<h2>Endpoints</h2>
<ul>
<li><code>GET /</code> this page</li>
<li><code>GET /status</code> service status</li>
<li><code>GET /health</code> liveness probe</li>
<li><code>GET /download?url=URL</code> download a file</li>
</ul>
</body>
</html>
`))

type indexData struct {
	Version string
	Proxy   string
	Domains []string
}

// IndexHandler serves the informational landing page.
type IndexHandler struct {
	via     proxyconf.Descriptor
	allow   *allowlist.List
	enabled bool
	version Version
}

// NewIndexHandler creates an IndexHandler. The allowed domains are listed only
// when allowlistEnabled is set.
func NewIndexHandler(via proxyconf.Descriptor, allow *allowlist.List, allowlistEnabled bool, v Version) *IndexHandler {
	return &IndexHandler{via: via.Redacted(), allow: allow, enabled: allowlistEnabled, version: v}
}

// Index renders the landing page. The allowlist is read on every request so
// reloads show up without a restart.
func (h *IndexHandler) Index(c echo.Context) error {
	data := indexData{
		Version: string(h.version),
		Proxy:   h.via.HTTPSProxy,
	}
	if h.enabled {
		data.Domains = h.allow.Domains()
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
