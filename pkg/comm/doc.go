// Package comm defines the canonical communication contract for yggdrasil
// channels and the default-transport facade bound once per process.
//
// Key concepts:
//   - Transport: mints Addresses and opens Channels of a specific Type (ipc/socket/quic/pipe)
//   - Address: an opaque endpoint identifier owned by the transport that minted it
//   - Channel: an owned handle with Count/Send/Recv/Close; released exactly once
//   - Default: the six-operation facade; every call is a pure forward to the
//     bound transport, so the facade adds no failure modes of its own
package comm
