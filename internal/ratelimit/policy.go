// policy.go -- Named window presets.
//
// A preset is only a (windowSeconds, limit) pair under a scope name; the
// scope becomes part of the counter key so several windows can guard one action.
package ratelimit

// Window is one fixed-window limit.
type Window struct {
	Scope   string `yaml:"scope"`
	Seconds int    `yaml:"window_seconds"`
	Limit   int    `yaml:"limit"`
}

// Burst allows limit hits per minute.
func Burst(limit int) Window { return Window{Scope: "burst", Seconds: 60, Limit: limit} }

// Hourly allows limit hits per hour.
func Hourly(limit int) Window { return Window{Scope: "hour", Seconds: 3600, Limit: limit} }

// Daily allows limit hits per day.
func Daily(limit int) Window { return Window{Scope: "day", Seconds: 86400, Limit: limit} }

// Budget5h allows limit hits per five hours.
func Budget5h(limit int) Window { return Window{Scope: "5h", Seconds: 5 * 3600, Limit: limit} }

// Valid reports whether w can be enforced.
func (w Window) Valid() bool {
	return w.Scope != "" && w.Seconds > 0 && w.Limit > 0
}
