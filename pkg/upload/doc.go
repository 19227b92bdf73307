// Package upload moves large binary payloads through the chat message
// channel despite the transport's hard per-frame size ceiling.
//
// A payload is sliced into bounded chunks, each base64-encoded into an
// independently decodable text unit, and driven through a three-phase
// handshake: one UPLOAD_START announcing the chunk count, the chunks in
// index order, then one UPLOAD_END. The receiver reassembles; this side
// only guarantees transmission order.
//
// # Delivery contract
//
// There is no per-chunk acknowledgment and no retry. The ~10ms pause
// between chunks is a self-imposed rate limit on the outbound buffer, not
// flow control. If the connection drops mid-transfer the task is abandoned
// and the partial upload is discarded; the new connection shares no state
// with the old task.
package upload
