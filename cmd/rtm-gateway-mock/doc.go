// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rtm-gateway-mock is a development gateway for exercising rtm-client
// and the rtm package without a real deployment. It speaks the quest
// protocol on one TCP listener and plays every server role:
//
//   - which: dispatcher lookup, always answering with its own address
//   - auth: accepts the configured token, optionally pushing an
//     unread summary
//   - ping, bye: acknowledged
//   - sendmsg, sendgroupmsg, sendroommsg: echoed back to the sender as
//     the matching push, repeated --duplicate times so the client's
//     dedup filter has work to do
//   - filetoken: issues a one-shot token naming itself as file gateway
//   - sendfile, sendgroupfile, sendroomfile: consumes the token,
//     decompresses, and verifies the signature
//
// With --private-key-file the listener requires the X25519 handshake.
// --generate-key writes a fresh key pair and exits.
package main
