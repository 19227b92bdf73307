// Package chattest provides an in-process room server for integration
// tests: an HTTP handler exposing the room directory and the chat
// websocket endpoint, reimplementing the hosted backend's observable
// behavior so clients can be exercised end to end without a deployment.
package chattest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ephemeralchat/roomlink/pkg/protocol"
)

const timestampLayout = "2006-01-02 15:04:05"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithReadLimit caps inbound frame size in bytes. Frames over the limit
// close the connection with code 1009.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// Server is the in-process room backend.
type Server struct {
	logger    zerolog.Logger
	readLimit int64
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	id      string
	name    string
	host    string
	active  bool
	members map[string]*member // keyed by username
}

type member struct {
	token string
	conn  *websocket.Conn
	wmu   sync.Mutex
}

func (m *member) send(data []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer builds an empty room backend.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger: zerolog.Nop(),
		rooms:  make(map[string]*room),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom registers a room and returns its identifier.
func (s *Server) CreateRoom(name, hostUsername string) string {
	id := strings.ToUpper(uuid.NewString()[:8])
	s.mu.Lock()
	s.rooms[id] = &room{
		id:      id,
		name:    name,
		host:    hostUsername,
		active:  true,
		members: make(map[string]*member),
	}
	s.mu.Unlock()
	s.logger.Info().Str("module", "chattest").Str("room", id).Str("name", name).Msg("room created")
	return id
}

// Roster returns the usernames currently joined to the room.
func (s *Server) Roster(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	return names
}

// Handler returns the HTTP surface: the room directory under /api/chat and
// the websocket endpoint at /chat.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/chat/room/{roomID}", s.handleRoomInfo)
	r.Get("/chat", s.handleSocket)
	return r
}

func (s *Server) handleRoomInfo(w http.ResponseWriter, req *http.Request) {
	roomID := chi.URLParam(req, "roomID")
	s.mu.Lock()
	rm := s.rooms[roomID]
	s.mu.Unlock()
	if rm == nil || !rm.active {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"roomName":     rm.name,
		"hostUsername": rm.host,
	})
}

// connState is the per-socket state the handler threads through a
// connection's lifetime.
type connState struct {
	conn     *websocket.Conn
	me       *member
	username string
	roomID   string
	uploads  map[string]*uploadBuf
}

type uploadBuf struct {
	kind protocol.Type
	data strings.Builder
}

func (s *Server) handleSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("module", "chattest").Msg("upgrade failed")
		return
	}
	if s.readLimit > 0 {
		conn.SetReadLimit(s.readLimit)
	}

	st := &connState{conn: conn, uploads: make(map[string]*uploadBuf)}
	defer func() {
		s.dropConnection(st)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			s.logger.Debug().Err(err).Str("module", "chattest").Msg("ignoring malformed frame")
			continue
		}
		s.handleMessage(st, m)
	}
}

func (s *Server) handleMessage(st *connState, m protocol.Message) {
	switch m.Type {
	case protocol.TypeJoin:
		s.handleJoin(st, m)
	case protocol.TypeChat, protocol.TypeAudio, protocol.TypeImage,
		protocol.TypeVideo, protocol.TypeFile:
		s.relay(m)
	case protocol.TypeUploadStart, protocol.TypeUploadChunk, protocol.TypeUploadEnd:
		s.handleUpload(st, m)
	case protocol.TypeLeave:
		s.handleLeave(st)
	case protocol.TypeRoomClosed:
		s.handleCloseRoom(m.Sender, m.RoomID)
	}
}

func (s *Server) handleJoin(st *connState, m protocol.Message) {
	s.mu.Lock()
	rm := s.rooms[m.RoomID]
	if rm == nil || !rm.active {
		s.mu.Unlock()
		s.sendSystem(st, m.RoomID, "Room not found or inactive")
		return
	}
	if existing, taken := rm.members[m.Sender]; taken &&
		existing.token != "" && existing.token != m.UserID {
		s.mu.Unlock()
		s.sendSystem(st, m.RoomID, "Username '"+m.Sender+"' is already taken in this room")
		return
	}
	st.username = m.Sender
	st.roomID = m.RoomID
	st.me = &member{token: m.UserID, conn: st.conn}
	rm.members[m.Sender] = st.me
	s.mu.Unlock()

	s.logger.Info().Str("module", "chattest").Str("room", m.RoomID).
		Str("user", m.Sender).Msg("joined")
	s.broadcast(m.RoomID, protocol.Message{
		Type:      protocol.TypeJoin,
		Content:   m.Sender + " joined the room",
		Sender:    m.Sender,
		RoomID:    m.RoomID,
		Timestamp: time.Now().Format(timestampLayout),
	})
	s.broadcastRoster(m.RoomID)
}

// relay fans a participant-authored message out unchanged.
func (s *Server) relay(m protocol.Message) {
	s.mu.Lock()
	rm := s.rooms[m.RoomID]
	active := rm != nil && rm.active
	s.mu.Unlock()
	if active {
		s.broadcast(m.RoomID, m)
	}
}

func (s *Server) handleUpload(st *connState, m protocol.Message) {
	switch m.Type {
	case protocol.TypeUploadStart:
		st.uploads[m.UploadID] = &uploadBuf{kind: protocol.Type(m.FileType)}
		s.logger.Info().Str("module", "chattest").Str("file", m.FileName).
			Str("kind", m.FileType).Msg("upload started")

	case protocol.TypeUploadChunk:
		if buf := st.uploads[m.UploadID]; buf != nil {
			buf.data.WriteString(m.Content)
		}

	case protocol.TypeUploadEnd:
		buf := st.uploads[m.UploadID]
		if buf == nil {
			return
		}
		delete(st.uploads, m.UploadID)

		mime := m.FileType
		if mime == "" {
			mime = guessMIME(m.FileName)
		}
		s.logger.Info().Str("module", "chattest").Str("file", m.FileName).
			Int("size", buf.data.Len()).Msg("upload finished")
		s.relay(protocol.Message{
			Type:      buf.kind,
			Content:   "data:" + mime + ";base64," + buf.data.String(),
			Sender:    m.Sender,
			RoomID:    m.RoomID,
			FileName:  m.FileName,
			FileType:  mime,
			Timestamp: time.Now().Format(timestampLayout),
		})
	}
}

func (s *Server) handleLeave(st *connState) {
	if st.username == "" {
		return
	}
	roomID, left := s.removeMember(st)
	st.username = ""
	if !left {
		return
	}
	s.broadcastRoster(roomID)
}

// dropConnection treats an unannounced socket close like a LEAVE, but only
// if this socket is still the member's active one. A reconnect replaces
// the member entry, and the stale socket's close must not evict it.
func (s *Server) dropConnection(st *connState) {
	if st.username == "" {
		return
	}
	roomID, left := s.removeMember(st)
	if left {
		s.broadcastRoster(roomID)
	}
}

// removeMember removes the connection's member entry if it is current,
// broadcasting the LEAVE message. Returns the room and whether a removal
// happened.
func (s *Server) removeMember(st *connState) (string, bool) {
	s.mu.Lock()
	rm := s.rooms[st.roomID]
	if rm == nil {
		s.mu.Unlock()
		return "", false
	}
	current, ok := rm.members[st.username]
	if !ok || current != st.me {
		s.mu.Unlock()
		return "", false
	}
	delete(rm.members, st.username)

	// Host departure hands the room to any remaining participant.
	if rm.host == st.username {
		for name := range rm.members {
			rm.host = name
			break
		}
	}
	s.mu.Unlock()

	s.broadcast(st.roomID, protocol.Message{
		Type:      protocol.TypeLeave,
		Content:   st.username + " left the room",
		Sender:    st.username,
		RoomID:    st.roomID,
		Timestamp: time.Now().Format(timestampLayout),
	})
	return st.roomID, true
}

func (s *Server) handleCloseRoom(username, roomID string) {
	s.mu.Lock()
	rm := s.rooms[roomID]
	if rm == nil || rm.host != username {
		s.mu.Unlock()
		return
	}
	rm.active = false
	s.mu.Unlock()

	s.broadcast(roomID, protocol.Message{
		Type:      protocol.TypeRoomClosed,
		Content:   "Room has been closed by the host",
		Sender:    "System",
		RoomID:    roomID,
		Timestamp: time.Now().Format(timestampLayout),
	})

	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	s.logger.Info().Str("module", "chattest").Str("room", roomID).Msg("room closed")
}

func (s *Server) broadcastRoster(roomID string) {
	s.mu.Lock()
	rm := s.rooms[roomID]
	if rm == nil {
		s.mu.Unlock()
		return
	}
	names := make([]string, 0, len(rm.members))
	for name := range rm.members {
		names = append(names, name)
	}
	s.mu.Unlock()

	s.broadcast(roomID, protocol.Message{
		Type:      protocol.TypeUserList,
		Content:   protocol.JoinRoster(names),
		Sender:    "System",
		RoomID:    roomID,
		Timestamp: time.Now().Format(timestampLayout),
	})
}

func (s *Server) broadcast(roomID string, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		return
	}
	s.mu.Lock()
	rm := s.rooms[roomID]
	var targets []*member
	if rm != nil {
		targets = make([]*member, 0, len(rm.members))
		for _, mb := range rm.members {
			targets = append(targets, mb)
		}
	}
	s.mu.Unlock()

	for _, mb := range targets {
		if err := mb.send(data); err != nil {
			s.logger.Debug().Err(err).Str("module", "chattest").Msg("broadcast write failed")
		}
	}
}

func (s *Server) sendSystem(st *connState, roomID, text string) {
	data, err := protocol.Encode(protocol.Message{
		Type:      protocol.TypeChat,
		Content:   text,
		Sender:    "System",
		RoomID:    roomID,
		Timestamp: time.Now().Format(timestampLayout),
	})
	if err != nil {
		return
	}
	_ = st.conn.WriteMessage(websocket.TextMessage, data)
}

func guessMIME(fileName string) string {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(lower, ".webm"):
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
