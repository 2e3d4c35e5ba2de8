// policy.go
//
// Optional YAML file overriding the built-in per-action rate-limit table:
//
//	actions:
//	  createUser:
//	    escalate: true
//	    windows:
//	      - {scope: burst, window_seconds: 60, limit: 3}
//	      - {scope: day, window_seconds: 86400, limit: 10}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MGallo-Code/roomgate/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// RatePolicy overrides one action's windows. A nil Escalate keeps the built-in flag.
type RatePolicy struct {
	Escalate *bool              `yaml:"escalate"`
	Windows  []ratelimit.Window `yaml:"windows"`
}

type policyFile struct {
	Actions map[string]RatePolicy `yaml:"actions"`
}

// LoadRatePolicies parses the policy file at path. Unknown fields and invalid
// windows are errors; action names are checked when the policies are applied.
func LoadRatePolicies(path string) (map[string]RatePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return ParseRatePolicies(data)
}

// ParseRatePolicies decodes policy YAML.
func ParseRatePolicies(data []byte) (map[string]RatePolicy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pf policyFile
	if err := dec.Decode(&pf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	for action, p := range pf.Actions {
		if len(p.Windows) == 0 {
			return nil, fmt.Errorf("action %q: at least one window required", action)
		}
		for _, w := range p.Windows {
			if !w.Valid() {
				return nil, fmt.Errorf("action %q: invalid window %+v", action, w)
			}
		}
	}
	return pf.Actions, nil
}
