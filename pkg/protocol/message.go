package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Protocol errors.
var (
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrMissingField = errors.New("protocol: required field missing")
	ErrMalformed    = errors.New("protocol: malformed payload")
)

// Type identifies a message variant. Wire names are the exact uppercase
// strings expected by the room server.
type Type string

const (
	TypeJoin        Type = "JOIN"
	TypeLeave       Type = "LEAVE"
	TypeChat        Type = "CHAT"
	TypeAudio       Type = "AUDIO"
	TypeImage       Type = "IMAGE"
	TypeVideo       Type = "VIDEO"
	TypeFile        Type = "FILE"
	TypeUserList    Type = "USER_LIST"
	TypeRoomClosed  Type = "ROOM_CLOSED"
	TypeUploadStart Type = "UPLOAD_START"
	TypeUploadChunk Type = "UPLOAD_CHUNK"
	TypeUploadEnd   Type = "UPLOAD_END"
)

// Known reports whether t is one of the enumerated variants.
func (t Type) Known() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeChat, TypeAudio, TypeImage, TypeVideo,
		TypeFile, TypeUserList, TypeRoomClosed, TypeUploadStart,
		TypeUploadChunk, TypeUploadEnd:
		return true
	}
	return false
}

// Transcript reports whether messages of this type belong to the ordered,
// append-only transcript. USER_LIST replaces the roster instead of appending,
// and the upload handshake variants are plumbing, not display content.
func (t Type) Transcript() bool {
	switch t {
	case TypeChat, TypeJoin, TypeLeave, TypeAudio, TypeImage, TypeVideo,
		TypeFile, TypeRoomClosed:
		return true
	}
	return false
}

// Message is the tagged union exchanged over the socket. Type, Content,
// Sender and RoomID are common to all variants; the remaining fields are
// populated per variant and omitted from the wire form when empty.
type Message struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
	RoomID  string `json:"roomId"`

	// Timestamp is assigned by the server on broadcast ("2006-01-02 15:04:05").
	Timestamp string `json:"timestamp,omitempty"`

	// Media and upload metadata.
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`

	// UserID is the sender's participant token, carried on JOIN so the
	// server can recognize a returning participant after a reconnect.
	UserID string `json:"userId,omitempty"`

	// Chunked transfer handshake.
	UploadID    string `json:"uploadId,omitempty"`
	ChunkIndex  int    `json:"chunkIndex,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
}

// Validate checks that the message type is known and that the fields the
// variant requires are present.
func (m *Message) Validate() error {
	if !m.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, string(m.Type))
	}

	switch m.Type {
	case TypeJoin:
		if m.Sender == "" {
			return fmt.Errorf("%w: JOIN sender", ErrMissingField)
		}
		if m.RoomID == "" {
			return fmt.Errorf("%w: JOIN roomId", ErrMissingField)
		}
	case TypeUploadStart:
		if m.UploadID == "" {
			return fmt.Errorf("%w: UPLOAD_START uploadId", ErrMissingField)
		}
		if m.FileName == "" {
			return fmt.Errorf("%w: UPLOAD_START fileName", ErrMissingField)
		}
		if m.FileType == "" {
			return fmt.Errorf("%w: UPLOAD_START fileType", ErrMissingField)
		}
		if m.TotalChunks < 1 {
			return fmt.Errorf("%w: UPLOAD_START totalChunks", ErrMissingField)
		}
	case TypeUploadChunk:
		if m.UploadID == "" {
			return fmt.Errorf("%w: UPLOAD_CHUNK uploadId", ErrMissingField)
		}
		if m.Content == "" {
			return fmt.Errorf("%w: UPLOAD_CHUNK content", ErrMissingField)
		}
		if m.ChunkIndex < 0 {
			return fmt.Errorf("%w: UPLOAD_CHUNK chunkIndex", ErrMissingField)
		}
	case TypeUploadEnd:
		if m.UploadID == "" {
			return fmt.Errorf("%w: UPLOAD_END uploadId", ErrMissingField)
		}
	}
	return nil
}

// Encode serializes the message to its wire form, validating it first.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses a wire payload into a Message and validates it. The caller
// owns the policy for invalid payloads; connections must never be torn down
// over a decode error.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// RosterDelimiter separates usernames in a USER_LIST content payload.
const RosterDelimiter = ", "

// SplitRoster parses a USER_LIST content payload into usernames, dropping
// empty entries.
func SplitRoster(content string) []string {
	parts := strings.Split(content, RosterDelimiter)
	roster := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roster = append(roster, p)
		}
	}
	return roster
}

// JoinRoster is the inverse of SplitRoster.
func JoinRoster(users []string) string {
	return strings.Join(users, RosterDelimiter)
}
