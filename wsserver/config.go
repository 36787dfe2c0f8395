package wsserver

import (
	"time"

	"github.com/harborws/harbor/wslog"
)

// Config holds Server-side configuration.
type Config struct {
	// Address is a protocol://host:port spec, or empty for a
	// listener-less Server used for in-process pair tests.
	Address string

	// AutoAccept selects inline accept vs. NEW_TCP_CONNECTION_AVAILABLE
	// plus a manual AcceptNewConnection call.
	AutoAccept bool

	// UseCrypto reserves TLS attachment for the out-of-scope listener
	// bootstrap collaborator; this implementation treats it only as a
	// flag consulted by ParseAddress's default-port rule.
	UseCrypto bool

	// Identifier is the value sent as the handshake response's
	// Server header. Empty selects an auto-generated identifier
	// (see New).
	Identifier string

	// AcceptTimeout bounds a single accept attempt.
	AcceptTimeout time.Duration

	// ShutdownCleanup controls whether Close() unlinks a UNIX-domain
	// socket file; ProcessDidFork(0) forces this false in the child.
	ShutdownCleanup bool

	Logger wslog.Logger
}

// DefaultConfig returns the standard defaults: auto-accept on, a
// 5-second accept timeout, and cleanup enabled.
func DefaultConfig() *Config {
	return &Config{
		AutoAccept:      true,
		AcceptTimeout:   5 * time.Second,
		ShutdownCleanup: true,
		Logger:          wslog.NewStd(),
	}
}

// Option customizes Server construction.
type Option func(*Config)

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(c *Config) { c.Address = addr }
}

// WithAutoAccept overrides the auto-accept default.
func WithAutoAccept(v bool) Option {
	return func(c *Config) { c.AutoAccept = v }
}

// WithIdentifier overrides the generated server identifier.
func WithIdentifier(id string) Option {
	return func(c *Config) { c.Identifier = id }
}

// WithLogger installs a custom log sink.
func WithLogger(l wslog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCrypto marks the server as TLS-fronted for address-default
// purposes.
func WithCrypto(v bool) Option {
	return func(c *Config) { c.UseCrypto = v }
}
