// Package session models one participant's membership in one chat room and
// the continuity record that gates automatic reconnection.
//
// The continuity record is deliberately not ambient state: persistence is an
// injected Store capability owned by the connection manager, so tests and
// embedders control exactly where (and whether) membership survives.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session identifies one participant's membership in one room. It is created
// on the first successful join, survives reconnects, and is destroyed on
// deliberate leave or room closure.
type Session struct {
	// RoomID is the opaque room identifier, stable for the room's lifetime.
	RoomID string

	// Username is the display name chosen at join time. Not guaranteed
	// unique; the server disambiguates returning participants by token.
	Username string

	// ParticipantToken is generated once per Store lifetime and reused
	// across reconnects so the server recognizes a returning participant.
	ParticipantToken string
}

// New builds a Session for the given room and display name, pulling the
// participant token from the store so reconnects present the same identity.
func New(roomID, username string, store Store) Session {
	return Session{
		RoomID:           roomID,
		Username:         username,
		ParticipantToken: store.ParticipantToken(),
	}
}

// Record marks an active room membership. Its presence in a Store is the
// sole signal that automatic reconnection should be attempted.
type Record struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAtEpochMs"`
}

// Matches reports whether the record authorizes reconnection into roomID.
func (r Record) Matches(roomID string) bool {
	return r.RoomID != "" && r.RoomID == roomID
}

// NewRecord stamps a continuity record for the session at the current time.
func NewRecord(s Session) Record {
	return Record{
		RoomID:   s.RoomID,
		Username: s.Username,
		JoinedAt: time.Now().UnixMilli(),
	}
}

// NewToken generates a fresh participant token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
