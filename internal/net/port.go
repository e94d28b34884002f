// Package net has small networking helpers shared by the cluster backends.
package net

import (
	"fmt"
	"net"
)

// EphemeralTCPPort asks the kernel for a free TCP port on the loopback
// interface. The port is released before returning, so it can be handed to
// something else (e.g. a container port binding); there is a small race
// window where another process could grab it.
func EphemeralTCPPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
