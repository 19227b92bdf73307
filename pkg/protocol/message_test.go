package protocol

import (
	"errors"
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "join",
			msg: Message{
				Type:   TypeJoin,
				Sender: "ada",
				RoomID: "A1B2C3D4",
				UserID: "tok-9f8e7d",
			},
		},
		{
			name: "leave",
			msg: Message{
				Type:    TypeLeave,
				Content: "ada left the room",
				Sender:  "ada",
				RoomID:  "A1B2C3D4",
			},
		},
		{
			name: "chat",
			msg: Message{
				Type:      TypeChat,
				Content:   "hello, room",
				Sender:    "grace",
				RoomID:    "A1B2C3D4",
				Timestamp: "2026-08-28 12:00:00",
			},
		},
		{
			name: "audio",
			msg: Message{
				Type:    TypeAudio,
				Content: "data:audio/webm;base64,AAAA",
				Sender:  "grace",
				RoomID:  "A1B2C3D4",
			},
		},
		{
			name: "user_list",
			msg: Message{
				Type:    TypeUserList,
				Content: "ada, grace, linus",
				Sender:  "System",
				RoomID:  "A1B2C3D4",
			},
		},
		{
			name: "room_closed",
			msg: Message{
				Type:    TypeRoomClosed,
				Content: "Room has been closed by the host",
				Sender:  "System",
				RoomID:  "A1B2C3D4",
			},
		},
		{
			name: "upload_start",
			msg: Message{
				Type:        TypeUploadStart,
				Sender:      "ada",
				RoomID:      "A1B2C3D4",
				FileName:    "cat.png",
				FileType:    "IMAGE",
				UploadID:    "u-01",
				TotalChunks: 3,
			},
		},
		{
			name: "upload_chunk",
			msg: Message{
				Type:       TypeUploadChunk,
				Content:    "aGVsbG8=",
				Sender:     "ada",
				RoomID:     "A1B2C3D4",
				UploadID:   "u-01",
				ChunkIndex: 2,
			},
		},
		{
			name: "upload_chunk_first",
			msg: Message{
				Type:     TypeUploadChunk,
				Content:  "aGVsbG8=",
				Sender:   "ada",
				RoomID:   "A1B2C3D4",
				UploadID: "u-01",
			},
		},
		{
			name: "upload_end",
			msg: Message{
				Type:     TypeUploadEnd,
				Sender:   "ada",
				RoomID:   "A1B2C3D4",
				FileName: "cat.png",
				FileType: "image/png",
				UploadID: "u-01",
			},
		},
		{
			name: "file_with_data_url",
			msg: Message{
				Type:     TypeFile,
				Content:  "data:application/pdf;base64,JVBERi0=",
				Sender:   "linus",
				RoomID:   "A1B2C3D4",
				FileName: "notes.pdf",
				FileType: "application/pdf",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tc.msg) {
				t.Errorf("round trip = %+v, want %+v", got, tc.msg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name:    "empty type",
			msg:     Message{Content: "x"},
			wantErr: ErrUnknownType,
		},
		{
			name:    "unknown type",
			msg:     Message{Type: "SHRUG", Sender: "ada", RoomID: "r"},
			wantErr: ErrUnknownType,
		},
		{
			name:    "join without sender",
			msg:     Message{Type: TypeJoin, RoomID: "r"},
			wantErr: ErrMissingField,
		},
		{
			name:    "join without room",
			msg:     Message{Type: TypeJoin, Sender: "ada"},
			wantErr: ErrMissingField,
		},
		{
			name:    "chunk without uploadId",
			msg:     Message{Type: TypeUploadChunk, Content: "AAAA", ChunkIndex: 1},
			wantErr: ErrMissingField,
		},
		{
			name:    "chunk without content",
			msg:     Message{Type: TypeUploadChunk, UploadID: "u-01"},
			wantErr: ErrMissingField,
		},
		{
			name: "start without totalChunks",
			msg: Message{
				Type: TypeUploadStart, UploadID: "u-01",
				FileName: "a.bin", FileType: "FILE",
			},
			wantErr: ErrMissingField,
		},
		{
			name:    "end without uploadId",
			msg:     Message{Type: TypeUploadEnd},
			wantErr: ErrMissingField,
		},
		{
			name: "valid chat",
			msg:  Message{Type: TypeChat, Content: "hi", Sender: "ada", RoomID: "r"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode() error = %v, want ErrMalformed", err)
	}
	if _, err := Decode([]byte(`{"type":"NOPE"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Decode() error = %v, want ErrUnknownType", err)
	}
}

func TestTranscriptMembership(t *testing.T) {
	display := []Type{
		TypeChat, TypeJoin, TypeLeave, TypeAudio, TypeImage, TypeVideo,
		TypeFile, TypeRoomClosed,
	}
	for _, typ := range display {
		if !typ.Transcript() {
			t.Errorf("%s.Transcript() = false, want true", typ)
		}
	}
	for _, typ := range []Type{TypeUserList, TypeUploadStart, TypeUploadChunk, TypeUploadEnd} {
		if typ.Transcript() {
			t.Errorf("%s.Transcript() = true, want false", typ)
		}
	}
}

func TestSplitRoster(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"several", "ada, grace, linus", []string{"ada", "grace", "linus"}},
		{"single", "ada", []string{"ada"}},
		{"empty", "", []string{}},
		{"trailing delimiter", "ada, ", []string{"ada"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SplitRoster(tc.content); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("SplitRoster(%q) = %v, want %v", tc.content, got, tc.want)
			}
		})
	}
}

func TestJoinRosterInverse(t *testing.T) {
	users := []string{"ada", "grace", "linus"}
	if got := SplitRoster(JoinRoster(users)); !reflect.DeepEqual(got, users) {
		t.Errorf("SplitRoster(JoinRoster()) = %v, want %v", got, users)
	}
}
