package wsserver

import "errors"

// Initialization errors are fatal to Server construction.
var (
	ErrBindFailed    = errors.New("wsserver: failed to bind listener")
	ErrInvalidAddr   = errors.New("wsserver: invalid address")
	ErrSocketDirFail = errors.New("wsserver: failed to create unix socket directory")
)

// Usage errors are programmer errors, never recoverable.
var (
	ErrNoListener         = errors.New("wsserver: accept_new_connection called on a server with no listener")
	ErrConnectionNotOwned = errors.New("wsserver: connection is not owned by this server")
)
