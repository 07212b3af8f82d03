// Package offline implements the offline caching engine: a versioned cache with
// install and activate lifecycle, per-request fetch strategies, push and sync hooks.
// The same Policy renders the browser worker served at /sw.js.
package offline

import (
	"net/url"
	"strings"
)

const (
	DefaultVersion   = "mission-control-v1"
	DefaultAPIPrefix = "/mc/"
	SyncTag          = "background-sync"
)

// Policy decides which requests are cached and how
type Policy struct {
	Version         string   `json:"version"`
	StaticResources []string `json:"staticResources"`
	APIPrefix       string   `json:"apiPrefix"`
	FontHosts       []string `json:"fontHosts"`
}

// DefaultPolicy returns the stock cache policy
func DefaultPolicy() Policy {
	return Policy{
		Version:         DefaultVersion,
		StaticResources: []string{"/", "/index.html", "/manifest.json"},
		APIPrefix:       DefaultAPIPrefix,
		FontHosts:       []string{"fonts.googleapis.com", "fonts.gstatic.com"},
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Version == "" {
		p.Version = def.Version
	}
	if p.APIPrefix == "" {
		p.APIPrefix = def.APIPrefix
	}
	if p.StaticResources == nil {
		p.StaticResources = def.StaticResources
	}
	if p.FontHosts == nil {
		p.FontHosts = def.FontHosts
	}
	return p
}

// IsAPI reports whether path is served network-first
func (p Policy) IsAPI(path string) bool {
	return strings.HasPrefix(path, p.APIPrefix)
}

// IsFontHost reports whether a cross-origin host is still handled by the worker
func (p Policy) IsFontHost(host string) bool {
	for _, h := range p.FontHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// IsStatic reports whether u is one of the pre-cached resources.
// Same-origin entries match on path, absolute entries on the full URL.
func (p Policy) IsStatic(u *url.URL, origin *url.URL) bool {
	for _, res := range p.StaticResources {
		if resolve(origin, res) == cacheKey(u) {
			return true
		}
	}
	return false
}

// StaticURLs resolves every static resource against origin
func (p Policy) StaticURLs(origin *url.URL) []string {
	out := make([]string, 0, len(p.StaticResources))
	for _, res := range p.StaticResources {
		out = append(out, resolve(origin, res))
	}
	return out
}

func resolve(origin *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if origin != nil {
		u = origin.ResolveReference(u)
	}
	return cacheKey(u)
}

// cacheKey drops the fragment; the query is part of the identity
func cacheKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
