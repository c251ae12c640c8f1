// Package simple decides which crawled links are worth following.
package simple

import (
	"strings"
)

var defaultExcludedPaths = []string{
	"/login", "/signup", "/logout", "/register", "/password-reset",
	"/admin", "/dashboard", "/wp-admin", "/manager",
	"/privacy", "/terms", "/cookie-policy", "/legal",
	"/api", "/graphql", "/rest",
	"/search", "/cart", "/checkout", "/contact",
}

var defaultExcludedExtensions = []string{".pdf", ".jpg", ".png", ".css", ".js", ".zip", ".mp4"}

// Policy keeps crawls on the base site and away from account, legal and
// binary pages.
type Policy struct {
	excludedPaths      []string
	excludedExtensions []string
}

// New creates a Policy with the default exclusions.
func New() *Policy {
	return &Policy{
		excludedPaths:      defaultExcludedPaths,
		excludedExtensions: defaultExcludedExtensions,
	}
}

// AllowLink reports whether candidate is internal to baseURL and not excluded.
// Exclusions match anywhere in the URL, so "/api" also rejects "/api-docs".
func (p *Policy) AllowLink(baseURL, candidate string) bool {
	if !strings.HasPrefix(candidate, baseURL) {
		return false
	}
	for _, excluded := range p.excludedPaths {
		if strings.Contains(candidate, excluded) {
			return false
		}
	}
	lower := strings.ToLower(candidate)
	for _, ext := range p.excludedExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}
