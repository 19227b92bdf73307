// Package protocol defines the wire vocabulary exchanged with the chat-room
// server over the WebSocket connection.
//
// Every frame carries exactly one JSON-encoded Message. The protocol is
// transport-agnostic: it defines message shape and per-variant field
// requirements, not delivery semantics. Serialization round-trips: for every
// valid message m, Decode(Encode(m)) == m on all fields the variant defines.
//
// Malformed or unknown inbound payloads are decode errors; dispatchers are
// expected to drop them and keep the connection alive.
package protocol
