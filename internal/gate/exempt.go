package gate

import (
	"path"
	"strings"

	"profilegate/internal/routes"
)

// DefaultExemptPrefixes never reach the policy: framework assets, probes,
// the watcher socket and the auth endpoints that establish a session.
// "/_next/data" is not exempt since it carries page props.
var DefaultExemptPrefixes = []string{
	"/_next/static/",
	"/_next/image",
	"/public/",
	"/favicon.ico",
	"/health",
	"/metrics",
	"/ws/",
	"/auth/",
	"/internal/",
}

var staticExtensions = map[string]struct{}{
	".svg":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

// exemptions matches request paths that bypass the gate.
type exemptions struct {
	prefixes []string
}

func newExemptions(prefixes []string) exemptions {
	return exemptions{prefixes: prefixes}
}

// match reports whether p skips the gate. p is normalized first, so dot
// segments cannot climb out of an exempt prefix. Image files are exempt only
// outside protected and auth-only routes.
func (e exemptions) match(p string, table *routes.Table) bool {
	clean := routes.Normalize(p)
	for _, prefix := range e.prefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(clean, prefix) {
				return true
			}
			continue
		}
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}

	if _, static := staticExtensions[strings.ToLower(path.Ext(clean))]; !static {
		return false
	}
	switch table.Classify(clean).Category {
	case routes.CategoryPublic, routes.CategoryUnclassified:
		return true
	default:
		return false
	}
}
