// Package model defines shared types for the relay.
package model

import (
	"context"
	"net/http"

	"github-relay-go/internal/proxyconf"
	"github-relay-go/internal/stream"
)

// UnknownLength marks a content length the upstream did not declare.
const UnknownLength int64 = -1

// RelayRequest represents one client download request.
type RelayRequest struct {
	Ctx              context.Context
	TargetURL        string
	Via              proxyconf.Descriptor
	RequireAllowlist bool
}

// RelayMetadata is what a HEAD probe learned about the target. It is advisory:
// the GET response may override it.
type RelayMetadata struct {
	ContentType   string
	ContentLength int64
	Filename      string
}

// RelayResponse is a relay that is ready to stream. Header is final; nothing has
// been sent to the client yet. The caller must Close Body.
type RelayResponse struct {
	Header   http.Header
	Body     *stream.Reader
	Metadata RelayMetadata
}
