// policy.go
//
// Static action table: which actions need a valid token, which are abuse
// controlled, and with what windows.
package admission

import (
	"fmt"

	"github.com/MGallo-Code/roomgate/internal/ratelimit"
)

// Action is a logical action name from the HTTP surface.
type Action string

const (
	ActionCreateUser     Action = "createUser"
	ActionGenerateToken  Action = "generateToken"
	ActionRefreshToken   Action = "refreshToken"
	ActionVerifyToken    Action = "verifyToken"
	ActionPasswordAuth   Action = "authenticateWithPassword"
	ActionSetPassword    Action = "setPassword"
	ActionCheckPassword  Action = "checkPassword"
	ActionListTokens     Action = "listTokens"
	ActionLogoutAll      Action = "logoutAllDevices"
	ActionLogoutCurrent  Action = "logoutCurrent"
	ActionHeartbeat      Action = "presenceHeartbeat"
	ActionLeave          Action = "presenceLeave"
	ActionRoomPresence   Action = "roomPresence"
	ActionAIReply        Action = "aiReply"
	ActionAdminReconcile Action = "adminReconcile"
)

// Policy is one row of the action table.
type Policy struct {
	// Protected actions require a valid, non-expired token.
	Protected bool
	// Sensitive actions check blocks and counters before anything else and
	// fail closed when the store is unreachable.
	Sensitive bool
	// Escalate turns a counter denial into a block.
	Escalate bool
	// ByAddress keys counters on the client address even when a username is present.
	ByAddress bool
	// Windows are all incremented on every attempt; the first denial wins.
	Windows []ratelimit.Window
}

// Policies maps every known action to its policy.
type Policies map[Action]Policy

// DefaultPolicies returns the built-in action table.
func DefaultPolicies() Policies {
	return Policies{
		ActionCreateUser: {
			Sensitive: true,
			Escalate:  true,
			ByAddress: true,
			Windows:   []ratelimit.Window{ratelimit.Burst(3), ratelimit.Daily(10)},
		},
		ActionGenerateToken: {
			Sensitive: true,
			Windows:   []ratelimit.Window{ratelimit.Burst(5), ratelimit.Hourly(30)},
		},
		ActionRefreshToken: {
			Sensitive: true,
			Windows:   []ratelimit.Window{ratelimit.Burst(10)},
		},
		ActionVerifyToken: {},
		ActionPasswordAuth: {
			Sensitive: true,
			Escalate:  true,
			Windows:   []ratelimit.Window{ratelimit.Burst(5), ratelimit.Hourly(20)},
		},
		ActionSetPassword: {
			Protected: true,
			Sensitive: true,
			Windows:   []ratelimit.Window{ratelimit.Burst(5)},
		},
		ActionCheckPassword: {Protected: true},
		ActionListTokens:    {Protected: true},
		ActionLogoutAll:     {Protected: true},
		ActionLogoutCurrent: {Protected: true},
		ActionHeartbeat: {
			Protected: true,
			Windows:   []ratelimit.Window{ratelimit.Burst(30)},
		},
		ActionLeave:        {Protected: true},
		ActionRoomPresence: {Protected: true},
		ActionAIReply: {
			Protected: true,
			Sensitive: true,
			Windows:   []ratelimit.Window{ratelimit.Burst(6), ratelimit.Budget5h(100)},
		},
		ActionAdminReconcile: {Protected: true},
	}
}

// Override replaces the windows of a known action and optionally its
// escalation flag. Protection and sensitivity are fixed by the table.
func (p Policies) Override(action string, windows []ratelimit.Window, escalate *bool) error {
	pol, ok := p[Action(action)]
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}
	for _, w := range windows {
		if !w.Valid() {
			return fmt.Errorf("action %q: invalid window %+v", action, w)
		}
	}
	pol.Windows = windows
	if escalate != nil {
		pol.Escalate = *escalate
	}
	p[Action(action)] = pol
	return nil
}
