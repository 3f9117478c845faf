// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build identity of the RTM binaries.
//
// The variables are injected with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/rtm/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Unset values read "unknown" and "0.1.0-dev".
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version, set by hand for releases.
	Version = "0.1.0-dev"
)

// Info returns the one-line form used by --version.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Print writes "<binary> <Info()> <go version> <os/arch>" to stdout.
func Print(binary string) {
	fmt.Printf("%s %s %s %s/%s\n", binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// ClientVersion is sent to the gateway in the auth quest so server
// logs can attribute sessions to SDK builds.
func ClientVersion() string {
	return "go-rtm/" + Version
}
