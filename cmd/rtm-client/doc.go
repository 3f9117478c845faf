// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rtm-client connects one session to an RTM gateway, logs every event
// the gateway pushes, and optionally sends a message or a file.
//
// Configuration comes from a YAML or JSONC file named by --config or
// the RTM_CONFIG environment variable; flags override individual
// settings. Without either, the built-in defaults apply and the
// gateway, pid, uid, and token file must be given as flags.
//
// The client runs until SIGINT or SIGTERM, then says bye to the
// gateway and closes the session.
package main
