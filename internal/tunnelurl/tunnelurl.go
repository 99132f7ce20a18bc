// Package tunnelurl implements the pure URL-selection functions of spec §4.9:
// given where the server is listening and what tunnel state external
// collaborators (Tailscale, the reverse-tunnel integrations) report, choose
// the scheme/host/port clients should connect through. It does no network I/O
// itself — it is a decision table over inputs the caller already gathered,
// the same "pure helper" shape as the teacher's server/cloudflare/tunnel_utils.go.
package tunnelurl

import (
	"fmt"
	"strconv"
	"strings"
)

// Inputs bundles everything connectionURL's decision table (spec §4.9) reads.
type Inputs struct {
	Host               string
	Port               int
	TailscaleHostname  string
	TailscaleIP        string
	IsTailscaleEnabled bool
	PreferTailscale    bool
	HTTPSAvailable     bool
	IsPublic           bool
	PreferSSL          bool
}

// BaseURL always yields "http://HOST:PORT", bracketing raw IPv6 literals.
func BaseURL(in Inputs) string {
	return fmt.Sprintf("http://%s:%d", bracketHost(in.Host), in.Port)
}

// ConnectionURL implements spec §4.9's decision table exactly.
func ConnectionURL(in Inputs) string {
	if in.PreferSSL && in.HTTPSAvailable {
		if in.TailscaleHostname != "" {
			return fmt.Sprintf("https://%s", in.TailscaleHostname)
		}
		return fmt.Sprintf("https://%s", bracketHost(in.Host))
	}

	// preferSSL == no, or httpsAvailable == no: same branch (spec table's
	// third and fourth rows resolve identically).
	host := in.Host
	if in.PreferTailscale && in.IsTailscaleEnabled && in.TailscaleIP != "" {
		host = in.TailscaleIP
	}
	return fmt.Sprintf("http://%s:%d", bracketHost(host), in.Port)
}

// APIURL returns ConnectionURL(in) + path.
func APIURL(in Inputs, path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return ConnectionURL(in) + path
}

// sslEffective reports whether ConnectionURL would actually use https.
func sslEffective(in Inputs) bool {
	return in.PreferSSL && in.HTTPSAvailable
}

// DisplayNameWithConnectionType decorates name with a glyph describing the
// effective connection type (spec §4.9): 🔒 for SSL, 🌐 for public, 🔗 for a
// tailscale-only (non-SSL) connection. The tailscale glyph is suppressed when
// the SSL glyph already applies.
func DisplayNameWithConnectionType(in Inputs, name string) string {
	switch {
	case sslEffective(in):
		return "🔒 " + name
	case in.IsPublic:
		return "🌐 " + name
	case in.IsTailscaleEnabled && in.TailscaleHostname != "":
		return "🔗 " + name
	default:
		return name
	}
}

// bracketHost wraps host in [] if it looks like a raw (unbracketed) IPv6
// literal — i.e. it contains a colon and is not already bracketed.
func bracketHost(host string) string {
	if host == "" {
		return host
	}
	if strings.HasPrefix(host, "[") {
		return host
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// ParsePort is a small convenience used by callers reading PORT-shaped
// strings (e.g. from config or CLI flags) without pulling in strconv at every
// call site.
func ParsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
