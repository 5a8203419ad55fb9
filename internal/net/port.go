package net

import (
	"context"
	"fmt"
	"net"
	"time"
)

const probeTimeout = time.Second

func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("resolving localhost:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// PortInUse reports whether something accepts TCP connections on the loopback port.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitPortFree polls the port until nothing is listening on it or timeout elapses.
// It returns whether the port was observed free.
func WaitPortFree(ctx context.Context, port int, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !PortInUse(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
