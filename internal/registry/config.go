// Package registry implements the Registry Client: reading, writing,
// locking and watching peer records in a Consul KV store.
package registry

import (
	"fmt"
	"time"
)

// MaxSessionTTL is the hard ceiling on session TTLs, enforced locally
// before a create-session call ever reaches Consul (Consul itself
// caps session TTL at 24h; this constant lets createSession fail fast).
const MaxSessionTTL = 24 * time.Hour

// DefaultPrefix is the default key prefix for a mesh's registry entries.
const DefaultPrefix = "wiresmith"

// Config holds the configuration for the Registry Client.
type Config struct {
	// Address is the base URL of the Consul HTTP API.
	// Default: http://127.0.0.1:8500
	Address string

	// Token is the Consul ACL token, sent as X-Consul-Token.
	Token string

	// Prefix is the key prefix for this mesh's entries.
	// Default: "wiresmith"
	Prefix string
}

// DefaultAddress is the default Consul HTTP API base URL.
const DefaultAddress = "http://127.0.0.1:8500"

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("registry: config: Address must not be empty")
	}
	if c.Prefix == "" {
		return fmt.Errorf("registry: config: Prefix must not be empty")
	}
	return nil
}
