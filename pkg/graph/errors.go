package graph

import "fmt"

// ConfigError is returned when a topology cannot be built from a config.
type ConfigError struct {
	NodeID string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.NodeID == "" {
		return "invalid graph config: " + e.Reason
	}
	return fmt.Sprintf("invalid graph config for %q: %s", e.NodeID, e.Reason)
}
