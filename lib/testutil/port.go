// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "net"

// FreePort returns "127.0.0.1:N" for a port that was free at the time
// of the call.
func FreePort(t TB) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving loopback port: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()
	return address
}
