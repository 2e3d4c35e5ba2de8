// keys.go -- Key builders for every shared-store namespace.
package store

import "strings"

const (
	activeTokenPrefix = "token:active:"
	presencePrefix    = "presence:"
	presenceTTLPrefix = "presence:ttl:"
	presenceCntPrefix = "presence:count:"
)

// ActiveTokenKey -> token:active:{username}:{tokenHash}
func ActiveTokenKey(username, tokenHash string) string {
	return activeTokenPrefix + username + ":" + tokenHash
}

// ActiveTokenPattern matches every active token key for username.
func ActiveTokenPattern(username string) string {
	return activeTokenPrefix + username + ":*"
}

// TokenHashFromKey returns the trailing token hash segment of an active token key.
func TokenHashFromKey(key string) string {
	return key[strings.LastIndexByte(key, ':')+1:]
}

// LastTokenKey -> token:last:{username}
func LastTokenKey(username string) string {
	return "token:last:" + username
}

// PasswordKey -> password:{username}
func PasswordKey(username string) string {
	return "password:" + username
}

// RateLimitKey -> ratelimit:{action}:{scope}:{identifier}
func RateLimitKey(action, scope, identifier string) string {
	return "ratelimit:" + action + ":" + scope + ":" + identifier
}

// BlockKey -> block:{action}:{identifier}
func BlockKey(action, identifier string) string {
	return "block:" + action + ":" + identifier
}

// PresenceKey -> presence:{roomID}, the room's sorted live set.
func PresenceKey(roomID string) string {
	return presencePrefix + roomID
}

// PresenceTTLKey -> presence:ttl:{roomID}:{username}
func PresenceTTLKey(roomID, username string) string {
	return presenceTTLPrefix + roomID + ":" + username
}

// PresenceCountKey -> presence:count:{roomID}, the cached room user-count.
func PresenceCountKey(roomID string) string {
	return presenceCntPrefix + roomID
}

// PresencePattern matches every presence key; use RoomFromPresenceKey to pick live sets.
const PresencePattern = presencePrefix + "*"

// RoomFromPresenceKey returns the room id when key is a room live set.
// TTL and count keys share the prefix and are rejected.
func RoomFromPresenceKey(key string) (string, bool) {
	if !strings.HasPrefix(key, presencePrefix) ||
		strings.HasPrefix(key, presenceTTLPrefix) ||
		strings.HasPrefix(key, presenceCntPrefix) {
		return "", false
	}
	room := strings.TrimPrefix(key, presencePrefix)
	if room == "" || strings.Contains(room, ":") {
		return "", false
	}
	return room, true
}
