// Package coordsession implements the Session Supervisor: it opens a
// TTL'd registry session, renews it on a fixed cadence, and destroys it
// on shutdown, cancelling the agent if a renewal ever fails.
package coordsession

import (
	"fmt"
	"time"
)

// TTL is the global session TTL constant, fixed at 15s in the canonical
// build. Treated as immutable process-wide configuration after startup.
const TTL = 15 * time.Second

// DefaultSessionName is the name recorded against the Consul session.
const DefaultSessionName = "wiresmith"

// Config holds the configuration for the Session Supervisor.
type Config struct {
	// Name is the name recorded against the Consul session.
	// Default: "wiresmith"
	Name string

	// TTL is the session TTL. Renewal cadence is TTL/2.
	// Default: the package-level TTL constant (15s).
	TTL time.Duration
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultSessionName
	}
	if c.TTL == 0 {
		c.TTL = TTL
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("coordsession: config: TTL must be positive")
	}
	return nil
}
