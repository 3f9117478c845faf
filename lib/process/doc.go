// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper shared by the rtm-client
// and rtm-gateway-mock binaries: reporting an error from run() before
// or instead of the structured logger, and exiting.
package process
