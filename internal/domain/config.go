package domain

import (
	"time"

	"dario.cat/mergo"
)

// Config carries the orchestration knobs for one cluster. Log markers and
// the service port depend on the subject system and must be provided;
// timings, schemes and parallelism have defaults.
type Config struct {
	// StartTimeout bounds the wait for a member to report started after a
	// runtime start, including the startup log marker.
	StartTimeout time.Duration
	// StopTimeout bounds a graceful stop; the runtime escalates to a
	// forced kill when it elapses.
	StopTimeout time.Duration
	// PollInterval paces the running/stopped state polls.
	PollInterval time.Duration

	// ServicePort is the in-container port of the externally probed
	// service endpoint.
	ServicePort int

	// RoutingScheme and DirectScheme translate a member's routed external
	// address into its direct-connection form. Leaving either empty keeps
	// the two forms identical.
	RoutingScheme string
	DirectScheme  string

	// StartMarker is logged when the process begins starting, ReadyMarker
	// when the service endpoint is accepting connections, StoppedMarker on
	// a completed graceful shutdown.
	StartMarker   string
	ReadyMarker   string
	StoppedMarker string

	// MaxParallel bounds the lifecycle fan-out across members.
	MaxParallel int
}

func DefaultConfig() *Config {
	return &Config{
		StartTimeout: 3 * time.Minute,
		StopTimeout:  2 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		MaxParallel:  16,
	}
}

// ApplyDefaults fills every zero field from DefaultConfig.
func (c *Config) ApplyDefaults() error {
	return mergo.Merge(c, DefaultConfig())
}

func (c *Config) Validate() error {
	if c.ServicePort <= 0 {
		return NewInvalidRequestError("config: service port is required")
	}
	if c.StartMarker == "" {
		return NewInvalidRequestError("config: start marker is required")
	}
	if c.ReadyMarker == "" {
		return NewInvalidRequestError("config: ready marker is required")
	}
	if c.StoppedMarker == "" {
		return NewInvalidRequestError("config: stopped marker is required")
	}
	if (c.RoutingScheme == "") != (c.DirectScheme == "") {
		return NewInvalidRequestError("config: routing and direct schemes must be set together")
	}
	return nil
}
