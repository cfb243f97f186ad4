package policy

import (
	"net/http"
	"path"
	"strings"

	"github.com/edgeopslabs/manifold/pkg/config"
)

type Decision int

const (
	Allow Decision = iota
	Deny
	Confirm
)

func (d Decision) String() string {
	switch d {
	case Deny:
		return "denied"
	case Confirm:
		return "confirm"
	default:
		return "allowed"
	}
}

type Policy struct {
	cfg      config.PolicyConfig
	safeMode bool
}

func New(cfg config.PolicyConfig, safeMode bool) *Policy {
	return &Policy{cfg: cfg, safeMode: safeMode}
}

// Evaluate decides whether a tool backed by an HTTP method may be exposed
// and called. Deny rules win over allow rules, allow rules over confirm.
func (p *Policy) Evaluate(tool, method string) Decision {
	method = strings.ToUpper(method)
	if p.safeMode && isMutating(method) {
		return Deny
	}

	if matchesAny(p.cfg.DenyTools, tool) || containsFold(p.cfg.DenyMethods, method) {
		return Deny
	}

	if len(p.cfg.AllowTools) > 0 && !matchesAny(p.cfg.AllowTools, tool) {
		return Deny
	}

	if matchesAny(p.cfg.ConfirmTools, tool) {
		return Confirm
	}

	return Allow
}

func matchesAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if matched, _ := path.Match(pattern, value); matched {
			return true
		}
	}
	return false
}

func containsFold(values []string, value string) bool {
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
