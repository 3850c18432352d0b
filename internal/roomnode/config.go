package roomnode

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
)

// ErrEmptyNodeID is returned when node ID is empty
var ErrEmptyNodeID = errors.New("node ID cannot be empty")

// Config represents configuration for a room node
type Config struct {
	// NodeID identifies this node in logs, health and stats
	NodeID string

	// Membership configures wildcard behaviour of the registry
	Membership membership.Config

	// Dispatch configures the broadcast dispatcher
	Dispatch broadcast.Config
}

// NewConfig creates a new node configuration with safe defaults
func NewConfig(nodeID string) *Config {
	return &Config{
		NodeID:     nodeID,
		Membership: membership.DefaultConfig(),
		Dispatch:   broadcast.DefaultConfig(),
	}
}

// SetDefaults fills in zero values
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch config: %w", err)
	}
	return nil
}

// WithMembershipConfig sets the registry configuration
func (c *Config) WithMembershipConfig(config membership.Config) *Config {
	c.Membership = config
	return c
}

// WithDispatchConfig sets the dispatcher configuration
func (c *Config) WithDispatchConfig(config broadcast.Config) *Config {
	c.Dispatch = config
	return c
}
