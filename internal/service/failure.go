package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github-relay-go/internal/stream"
)

// Kind classifies why a relay failed.
type Kind int

const (
	KindUnclassified Kind = iota
	KindMissingParameter
	KindDomainNotAllowed
	KindUpstreamTimeout
	KindUpstreamHTTPError
	// KindTransferInterrupted is only ever logged: by the time it happens the
	// response status has been sent.
	KindTransferInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindMissingParameter:
		return "missing_parameter"
	case KindDomainNotAllowed:
		return "domain_not_allowed"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstreamHTTPError:
		return "upstream_http_error"
	case KindTransferInterrupted:
		return "transfer_interrupted"
	default:
		return "unclassified"
	}
}

// Failure is the error returned for every relay that cannot produce a response body.
type Failure struct {
	Kind Kind
	// URL is the target as received from the client.
	URL string
	// Status is the upstream status code for KindUpstreamHTTPError.
	Status int
	Err    error
}

func (f *Failure) Error() string {
	msg := f.Kind.String()
	if f.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, f.Status)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure returns err as a *Failure, wrapping anything else as unclassified.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindUnclassified, Err: err}
}

// classify maps a transport error from an upstream call to a Failure.
func classify(err error, target string) *Failure {
	kind := KindUnclassified
	if isTimeout(err) {
		kind = KindUpstreamTimeout
	}
	return &Failure{Kind: kind, URL: target, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, stream.ErrStalled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
