// Package client owns the persistent duplex connection to the chat-room
// server: the socket handle, the session continuity record, the
// reconnection policy, and the dispatch of inbound protocol messages into
// application state (transcript and roster).
//
// One Client serves one Session and holds at most one live socket. The
// upload pipeline and the capture state machine produce protocol messages
// and hand them to the Client for transmission; they never touch the socket.
//
// # Reconnection
//
// Automatic reconnection is gated on exactly one signal: a continuity
// record in the injected session.Store whose room matches the current
// session. While the record is present, any transport loss schedules a
// retry with exponential backoff (1s doubling to a 30s ceiling, ten
// attempts per loss episode). A deliberate Leave or a ROOM_CLOSED broadcast
// clears the record, so the transport-close that follows schedules nothing.
// A foreground signal bypasses the backoff and resets the attempt budget.
package client
