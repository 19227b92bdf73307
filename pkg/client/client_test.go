package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ephemeralchat/roomlink/pkg/protocol"
	"github.com/ephemeralchat/roomlink/pkg/session"
)

type fakeConn struct {
	mu     sync.Mutex
	writes []protocol.Message
	inbox  chan []byte
	errc   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan []byte, 16),
		errc:  make(chan error, 1),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case err := <-c.errc:
		return nil, err
	case <-c.done:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Write(data []byte) error {
	m, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, m)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) written() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.writes...)
}

// deliver injects an inbound frame as if the server sent it.
func (c *fakeConn) deliver(t *testing.T, m protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.inbox <- data
}

// fail makes the next Read return err, simulating an unexpected drop.
func (c *fakeConn) fail(err error) {
	c.errc <- err
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs the most recently armed live timer synchronously.
func (c *fakeClock) fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	var last *fakeTimer
	for _, tm := range c.timers {
		if !tm.stopped && tm.fn != nil {
			last = tm
		}
	}
	if last == nil {
		c.mu.Unlock()
		t.Fatal("no live timer to fire")
	}
	fn := last.fn
	last.fn = nil
	c.mu.Unlock()
	fn()
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, tm := range c.timers {
		out[i] = tm.delay
	}
	return out
}

func (c *fakeClock) liveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tm := range c.timers {
		if !tm.stopped && tm.fn != nil {
			n++
		}
	}
	return n
}

// harness wires a Client to fakes and buffers its events.
type harness struct {
	client   *Client
	store    *session.MemoryStore
	dialer   *fakeDialer
	clock    *fakeClock
	statuses chan Status
	notices  chan Notice
	appended chan protocol.Message
	rosters  chan []string
	leaves   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewMemoryStore(),
		dialer:   &fakeDialer{},
		clock:    &fakeClock{},
		statuses: make(chan Status, 64),
		notices:  make(chan Notice, 8),
		appended: make(chan protocol.Message, 16),
		rosters:  make(chan []string, 8),
		leaves:   make(chan struct{}, 4),
	}
	sess := session.New("room-1", "alice", h.store)
	h.client = New("ws://example.test/chat", sess, h.store,
		WithDialer(h.dialer),
		WithEvents(Events{
			TranscriptAppended: func(m protocol.Message) { h.appended <- m },
			RosterReplaced:     func(r []string) { h.rosters <- r },
			StatusChanged:      func(s Status) { h.statuses <- s },
			Notice:             func(n Notice) { h.notices <- n },
			LeaveRoom:          func() { h.leaves <- struct{}{} },
		}),
	)
	h.client.clock = h.clock
	return h
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	h.dialer.queue(conn)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitStatus(t, func(s Status) bool { return s.State == StateOpen })
	return conn
}

func (h *harness) waitStatus(t *testing.T, match func(Status) bool) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.statuses:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for status")
		}
	}
}

func (h *harness) waitNotice(t *testing.T, kind NoticeKind) Notice {
	t.Helper()
	select {
	case n := <-h.notices:
		if n.Kind != kind {
			t.Fatalf("notice kind = %v, want %v", n.Kind, kind)
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
		return Notice{}
	}
}

func TestConnectSendsJoin(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(writes))
	}
	join := writes[0]
	if join.Type != protocol.TypeJoin {
		t.Errorf("first message type = %q, want JOIN", join.Type)
	}
	if join.Sender != "alice" || join.RoomID != "room-1" {
		t.Errorf("join identity = %q/%q", join.Sender, join.RoomID)
	}
	if join.UserID != h.store.ParticipantToken() {
		t.Errorf("join userId = %q, want participant token", join.UserID)
	}

	rec, ok := h.store.Load()
	if !ok || !rec.Matches("room-1") {
		t.Error("continuity record not saved on open")
	}
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := h.dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
}

func TestSendRequiresOpenConnection(t *testing.T) {
	h := newHarness(t)
	err := h.client.SendChat("hello")
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
}

func TestChatAppendedToTranscript(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	conn.deliver(t, protocol.Message{
		Type: protocol.TypeChat, Content: "hi", Sender: "bob", RoomID: "room-1",
	})
	select {
	case m := <-h.appended:
		if m.Content != "hi" || m.Sender != "bob" {
			t.Errorf("appended %q from %q", m.Content, m.Sender)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript append not observed")
	}
	if got := h.client.Transcript(); len(got) != 1 {
		t.Errorf("transcript length = %d, want 1", len(got))
	}
}

func TestUserListReplacesRoster(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	conn.deliver(t, protocol.Message{
		Type: protocol.TypeUserList, Content: "alice, bob, carol", RoomID: "room-1",
	})
	select {
	case r := <-h.rosters:
		if len(r) != 3 || r[1] != "bob" {
			t.Errorf("roster = %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("roster replacement not observed")
	}

	conn.deliver(t, protocol.Message{
		Type: protocol.TypeUserList, Content: "alice", RoomID: "room-1",
	})
	select {
	case r := <-h.rosters:
		if len(r) != 1 {
			t.Errorf("roster after shrink = %v, want single entry", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("roster replacement not observed")
	}
}

func TestMalformedInboundIsDropped(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	conn.inbox <- []byte("{not json")
	conn.deliver(t, protocol.Message{
		Type: protocol.TypeChat, Content: "still alive", Sender: "bob", RoomID: "room-1",
	})
	select {
	case m := <-h.appended:
		if m.Content != "still alive" {
			t.Errorf("appended %q", m.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive malformed frame")
	}
}

func TestPayloadTooBigNotice(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	conn.fail(&websocket.CloseError{Code: websocket.CloseMessageTooBig, Text: "frame too large"})
	h.waitNotice(t, NoticePayloadTooBig)

	st := h.waitStatus(t, func(s Status) bool { return s.State == StateClosed })
	if st.CloseCode != CloseMessageTooBig {
		t.Errorf("close code = %d, want %d", st.CloseCode, CloseMessageTooBig)
	}
}

func TestLeaveClearsRecordAndSendsLeave(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	h.client.Leave()

	if _, ok := h.store.Load(); ok {
		t.Error("continuity record survived Leave")
	}
	writes := conn.written()
	if len(writes) != 2 || writes[1].Type != protocol.TypeLeave {
		t.Fatalf("writes = %v, want JOIN then LEAVE", writes)
	}
	if h.clock.liveTimers() != 0 {
		t.Error("deliberate leave scheduled a retry")
	}
}

func TestRoomClosedClearsRecordAndLeavesOnceAfterGrace(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	closure := protocol.Message{
		Type: protocol.TypeRoomClosed, Content: "Room closed by host",
		Sender: "host", RoomID: "room-1",
	}
	conn.deliver(t, closure)
	select {
	case m := <-h.appended:
		if m.Type != protocol.TypeRoomClosed {
			t.Errorf("appended type = %q", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("closure not appended to transcript")
	}

	if _, ok := h.store.Load(); ok {
		t.Error("continuity record survived ROOM_CLOSED")
	}
	if h.clock.liveTimers() != 1 {
		t.Fatalf("live timers = %d, want grace timer only", h.clock.liveTimers())
	}
	if d := h.clock.delays()[len(h.clock.delays())-1]; d != DefaultGraceDelay {
		t.Errorf("grace delay = %v, want %v", d, DefaultGraceDelay)
	}

	h.clock.fire(t)
	select {
	case <-h.leaves:
	case <-time.After(2 * time.Second):
		t.Fatal("leave signal did not fire")
	}

	// A second closure broadcast must not produce a second leave.
	conn.deliver(t, closure)
	<-h.appended
	h.clock.fire(t)
	select {
	case <-h.leaves:
		t.Fatal("leave signal fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomClosedSuppressesReconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	conn.deliver(t, protocol.Message{
		Type: protocol.TypeRoomClosed, Content: "Room closed by host",
		Sender: "host", RoomID: "room-1",
	})
	<-h.appended

	// Server tears the socket down after broadcasting closure. With the
	// record already cleared, no retry may be scheduled.
	conn.fail(errors.New("server went away"))
	st := h.waitStatus(t, func(s Status) bool { return s.State == StateClosed })
	if st.Reconnecting {
		t.Error("reconnect scheduled after room closure")
	}
	if h.clock.liveTimers() != 1 {
		t.Errorf("live timers = %d, want grace timer only", h.clock.liveTimers())
	}
}
