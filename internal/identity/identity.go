// identity.go -- Username and client-address normalization.
//
// Usernames are the identity key for every record in the shared store, so the
// format is strict: anything that could collide with key separators or scan
// glob characters is rejected before a store call is made.
package identity

import (
	"net"
	"regexp"
	"strings"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,24}$`)

// roomIDRe bounds room ids to key-safe characters.
var roomIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NormalizeUsername trims and lowercases a username. It does not validate.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUsername checks format on an already-normalized username.
// Returns a human-readable failure message, or empty string when valid.
func ValidateUsername(username string) string {
	if username == "" {
		return "No username provided"
	}
	if len(username) < 3 {
		return "Username too short"
	}
	if len(username) > 24 {
		return "Username too long"
	}
	if !usernameRe.MatchString(username) {
		return "Username may only contain a-z, 0-9 and _"
	}
	return ""
}

// ValidRoomID reports whether id is usable as a room key segment.
// "ttl" and "count" are reserved presence key namespaces.
func ValidRoomID(id string) bool {
	if id == "ttl" || id == "count" {
		return false
	}
	return roomIDRe.MatchString(id)
}

// NormalizeAddr reduces a RemoteAddr or X-Real-IP value to a canonical bare IP.
// Falls back to the lowercased input when it does not parse.
func NormalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.Trim(addr, "[]")
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return strings.ToLower(addr)
}
