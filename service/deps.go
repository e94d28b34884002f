package service

import "fmt"

// Dependency is the read-only view a dependent service holds on a
// prerequisite. A dependent never owns its prerequisite's lifecycle; it only
// reads the connection descriptor when rendering configuration.
type Dependency interface {
	Name() string

	// ConnectionDescriptor derives connection parameters from the current node
	// set. It never mutates the service and is callable as soon as the service
	// is constructed, though the result is only meaningful while the service
	// is running.
	ConnectionDescriptor() string

	// Running reports whether the service has started and not yet stopped.
	Running() bool
}

// RequireRunning verifies that every prerequisite of a dependent service is
// running before the dependent's start begins.
func RequireRunning(dependent string, deps ...Dependency) error {
	for _, d := range deps {
		if d == nil {
			return fmt.Errorf("%s: missing dependency: %w", dependent, ErrDependencyNotReady)
		}
		if !d.Running() {
			return fmt.Errorf("%s requires %s: %w", dependent, d.Name(), ErrDependencyNotReady)
		}
	}
	return nil
}
