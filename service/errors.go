package service

import "errors"

var (
	// ErrInvalidState is returned when a lifecycle operation is invoked in a
	// state that does not permit it, such as starting a running service or
	// using a service after it has been stopped.
	ErrInvalidState = errors.New("invalid service state")

	// ErrStartupTimeout is returned when a node's readiness signal never
	// arrived within the configured bound. The enclosing start is aborted and
	// the service is left in an indeterminate state; the caller owns recovery
	// via Stop.
	ErrStartupTimeout = errors.New("timed out waiting for service to start")

	// ErrDependencyNotReady is returned when a service is started before a
	// prerequisite service can supply a connection descriptor. This is a
	// driver programming error and is not retried.
	ErrDependencyNotReady = errors.New("dependency not running")

	// ErrMasterNotFound is returned when a dynamic master lookup found no
	// master registered.
	ErrMasterNotFound = errors.New("master not found")
)
