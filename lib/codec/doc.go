// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every quest
// and answer body on the wire.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same parameters always produce the same bytes, which keeps frame
// signatures and test fixtures stable. Decoding into untyped targets
// produces map[string]any for maps and int64 for integers, which is
// the shape the quest parameter accessors expect.
//
//	body, err := codec.Marshal(questBody{Method: "auth", Params: params})
//	err = codec.Unmarshal(body, &decoded)
package codec
