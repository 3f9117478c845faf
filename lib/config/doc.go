// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the RTM client configuration file.
//
// Configuration comes from exactly one file named by the RTM_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no layering: the file is the
// single source of truth, laid over [Default].
//
// Files ending in .json or .jsonc are accepted alongside YAML. Comments
// and trailing commas are stripped before decoding, so a JSONC file
// decodes through the same YAML path (YAML is a superset of JSON).
//
// Path fields (token file, public key file) expand ${HOME} and
// ${VAR:-default} patterns. Durations are strings in
// [time.ParseDuration] syntax. [Config.Validate] reports every problem
// at once.
//
// This package depends on no other packages in this module.
package config
