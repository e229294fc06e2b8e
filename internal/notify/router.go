// Package notify implements recipient routing and delivery of scan
// completion notifications, with retry handled by the job queue.
package notify

import (
	"strings"

	"github.com/avickers/a11ypipe/internal/config"
)

// Router maps recipient addresses to provider IDs. Providers are checked in
// declared order, patterns within a provider in declared order; the first
// match wins. Addresses that match nothing route to the default provider.
type Router struct {
	providers []config.ProviderEntry
	fallback  string
}

// NewRouter builds a router from a validated routing table.
func NewRouter(routes config.Routes) *Router {
	return &Router{providers: routes.Providers, fallback: routes.DefaultProvider}
}

// Route returns the provider ID for an address. Matching is
// case-insensitive on the whole address.
func (r *Router) Route(address string) string {
	addr := normalizeAddress(address)
	for _, p := range r.providers {
		for _, pattern := range p.Patterns {
			if matchPattern(strings.ToLower(pattern), addr) {
				return p.ID
			}
		}
	}
	return r.fallback
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// matchPattern matches one lowercase pattern against a lowercase address.
// Supported forms, most specific first in practice:
//
//	user@example.com      exact address
//	*@example.com         any local part, exact domain
//	*@*.example.com       any local part, any subdomain depth
//	*-reports@example.com any local part ending in "-reports", exact domain
func matchPattern(pattern, addr string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == addr
	}

	patLocal, patDomain, ok := splitAddress(pattern)
	if !ok {
		return false
	}
	local, domain, ok := splitAddress(addr)
	if !ok {
		return false
	}

	if !matchLocal(patLocal, local) {
		return false
	}
	return matchDomain(patDomain, domain)
}

func splitAddress(s string) (local, domain string, ok bool) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", "", false
	}
	return s[:at], s[at+1:], true
}

func matchLocal(pattern, local string) bool {
	if pattern == "*" {
		return true
	}
	if suffix, found := strings.CutPrefix(pattern, "*"); found {
		return strings.HasSuffix(local, suffix)
	}
	return pattern == local
}

func matchDomain(pattern, domain string) bool {
	if base, found := strings.CutPrefix(pattern, "*."); found {
		// Any subdomain of base, at any depth, but not base itself.
		return strings.HasSuffix(domain, "."+base)
	}
	return pattern == domain
}
