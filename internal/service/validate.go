package service

import (
	"errors"
	"log/slog"
	"strings"

	"github-relay-go/internal/allowlist"
)

var (
	errMissingURL       = errors.New("url parameter is required")
	errDomainNotAllowed = errors.New("target host is not in the allowlist")
)

// TargetValidator checks client-supplied target URLs.
type TargetValidator struct {
	allow  *allowlist.List
	logger *slog.Logger
}

// NewTargetValidator creates a TargetValidator backed by allow.
func NewTargetValidator(allow *allowlist.List, logger *slog.Logger) *TargetValidator {
	return &TargetValidator{
		allow:  allow,
		logger: logger.With("component", "target_validator"),
	}
}

// Validate returns rawURL with surrounding whitespace removed. It fails with
// KindMissingParameter for an empty URL and, when allowlistRequired is set, with
// KindDomainNotAllowed for a host outside the allowlist.
func (v *TargetValidator) Validate(rawURL string, allowlistRequired bool) (string, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		v.logger.Debug("rejected target", "reason", KindMissingParameter.String())
		return "", &Failure{Kind: KindMissingParameter, Err: errMissingURL}
	}

	if allowlistRequired && !v.allow.AllowsURL(target) {
		v.logger.Debug("rejected target", "reason", KindDomainNotAllowed.String(), "url", target)
		return "", &Failure{Kind: KindDomainNotAllowed, URL: target, Err: errDomainNotAllowed}
	}

	v.logger.Debug("accepted target", "url", target, "allowlist", allowlistRequired)
	return target, nil
}
