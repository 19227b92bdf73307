package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ephemeralchat/roomlink/pkg/protocol"
	"github.com/ephemeralchat/roomlink/pkg/session"
)

// ErrNotOpen is returned by Send when no connection is open. Callers must
// not assume delivery without an Open connection; the message is dropped.
var ErrNotOpen = errors.New("client: connection not open")

// DefaultGraceDelay is how long after a ROOM_CLOSED broadcast the leave
// signal fires, giving the user a moment to read the closure notice.
const DefaultGraceDelay = 2 * time.Second

// State is the connection lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Status is the caller-visible connection readout. Reconnecting is a
// derived overlay on the base state.
type Status struct {
	State        State
	Reconnecting bool
	Attempt      int
	Terminal     bool
	CloseCode    int
	CloseReason  string
}

// NoticeKind classifies user-facing notices.
type NoticeKind int

const (
	// NoticePayloadTooBig: the peer closed the connection because a frame
	// exceeded the transport's size limit.
	NoticePayloadTooBig NoticeKind = iota

	// NoticeDisconnected: the retry budget is exhausted; the user must
	// re-enter the room manually.
	NoticeDisconnected
)

// Notice is a user-facing message the presentation layer should surface.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Events are the callbacks into application state. All fields are optional.
// Callbacks run on the client's internal goroutines and must not block.
type Events struct {
	// TranscriptAppended fires for each display-worthy inbound message,
	// in arrival order.
	TranscriptAppended func(protocol.Message)

	// RosterReplaced fires when a USER_LIST message replaces the roster.
	RosterReplaced func([]string)

	// StatusChanged fires on every connection state transition.
	StatusChanged func(Status)

	// Notice fires for user-facing conditions (payload too large,
	// terminal disconnect).
	Notice func(Notice)

	// LeaveRoom fires exactly once, a grace period after ROOM_CLOSED,
	// telling the presentation layer to exit the room entirely.
	LeaveRoom func()
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithEvents registers the application-state callbacks.
func WithEvents(ev Events) Option {
	return func(c *Client) { c.events = ev }
}

// WithGraceDelay overrides the ROOM_CLOSED leave delay.
func WithGraceDelay(d time.Duration) Option {
	return func(c *Client) { c.graceDelay = d }
}

// Client is the connection manager for one Session. It is the sole mutator
// of the connection state and the continuity record.
type Client struct {
	endpoint   string
	sess       session.Session
	store      session.Store
	dialer     Dialer
	events     Events
	logger     zerolog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	clock      clock
	graceDelay time.Duration

	mu          sync.Mutex
	conn        Conn
	gen         int // connection generation; orphans stale read pumps
	state       State
	closeCode   int
	closeReason string
	attempt     int
	retrying    bool
	terminal    bool
	retryTimer  timer
	baseCtx     context.Context
	transcript  []protocol.Message
	roster      []string

	leaveOnce sync.Once
}

// New builds a Client for the session, persisting continuity through store.
func New(endpoint string, sess session.Session, store session.Store, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		sess:       sess,
		store:      store,
		dialer:     NewWSDialer(),
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("roomlink/client"),
		clock:      realClock{},
		graceDelay: DefaultGraceDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the transport connection and, on success, transmits the
// JOIN message — the only implicit side effect of opening. It is a no-op if
// a connection is already Connecting or Open. A dial failure feeds the
// reconnection state machine exactly like a transport close.
func (c *Client) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		c.logger.Debug().Str("module", "client").Msg("connect ignored; already connecting or open")
		return nil
	}
	c.baseCtx = ctx
	c.state = StateConnecting
	c.cancelRetryLocked()
	gen := c.gen + 1
	c.gen = gen
	st := c.statusLocked()
	c.mu.Unlock()
	c.notifyStatus(st)

	dialCtx, span := c.tracer.Start(ctx, "client.connect", trace.WithAttributes(
		attribute.String("room.id", c.sess.RoomID),
		attribute.Int("connect.attempt", st.Attempt),
	))
	conn, err := c.dialer.Dial(dialCtx, c.endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		c.logger.Warn().Err(err).Str("module", "client").Msg("dial failed")
		c.metrics.IncConnectFailure()
		c.transportDown(gen, 0, err.Error())
		return fmt.Errorf("client: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	span.End()

	c.mu.Lock()
	if c.gen != gen {
		// A deliberate Close raced the dial; the session owner wins.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateOpen
	c.closeCode, c.closeReason = 0, ""
	c.retrying = false
	c.terminal = false
	c.attempt = 0
	c.store.Save(session.NewRecord(c.sess))
	st = c.statusLocked()
	c.mu.Unlock()
	c.notifyStatus(st)
	c.metrics.IncConnectOpened()
	c.logger.Info().Str("module", "client").Str("room", c.sess.RoomID).Msg("connected")

	if err := c.Send(protocol.Message{
		Type:   protocol.TypeJoin,
		Sender: c.sess.Username,
		RoomID: c.sess.RoomID,
		UserID: c.sess.ParticipantToken,
	}); err != nil {
		c.logger.Warn().Err(err).Str("module", "client").Msg("join send failed")
	}

	go c.readLoop(gen, conn)
	return nil
}

// Send transmits the message if the connection is Open; otherwise the
// message is dropped and ErrNotOpen returned.
func (c *Client) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("client: encode: %w", err)
	}

	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		c.metrics.IncSendDropped()
		c.logger.Debug().Str("module", "client").Str("type", string(m.Type)).
			Msg("send dropped; connection not open")
		return ErrNotOpen
	}
	gen := c.gen
	werr := c.conn.Write(data)
	c.mu.Unlock()

	if werr != nil {
		c.logger.Warn().Err(werr).Str("module", "client").Msg("write failed")
		c.transportDown(gen, 0, werr.Error())
		return fmt.Errorf("client: write: %w", werr)
	}
	c.metrics.IncMessageOut(m.Type, len(data))
	return nil
}

// SendChat transmits a CHAT message with the given text.
func (c *Client) SendChat(text string) error {
	return c.Send(protocol.Message{
		Type:    protocol.TypeChat,
		Content: text,
		Sender:  c.sess.Username,
		RoomID:  c.sess.RoomID,
	})
}

// Leave deliberately exits the room. The continuity record is cleared
// before the socket closes, so the transport-close event that follows is
// not mistaken for an unexpected drop.
func (c *Client) Leave() {
	c.store.Clear()
	_ = c.Send(protocol.Message{
		Type:   protocol.TypeLeave,
		Sender: c.sess.Username,
		RoomID: c.sess.RoomID,
	})
	c.Close("leave")
}

// CloseRoom asks the server to close the room. Host-only; the server
// enforces it. The continuity record is cleared when the ROOM_CLOSED
// broadcast echoes back, on the same path as every other member.
func (c *Client) CloseRoom() error {
	return c.Send(protocol.Message{
		Type:   protocol.TypeRoomClosed,
		Sender: c.sess.Username,
		RoomID: c.sess.RoomID,
	})
}

// Close deliberately shuts the connection down: continuity record first,
// then any pending retry, then the socket.
func (c *Client) Close(reason string) {
	c.store.Clear()

	c.mu.Lock()
	c.cancelRetryLocked()
	c.retrying = false
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++ // orphan the read pump; its close event must not reschedule
	c.state = StateClosed
	c.closeReason = reason
	st := c.statusLocked()
	c.mu.Unlock()

	c.notifyStatus(st)
	c.logger.Info().Str("module", "client").Str("reason", reason).Msg("closed")
}

// readLoop pumps inbound frames for one connection generation.
func (c *Client) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			code, reason := CloseInfo(err)
			c.transportDown(gen, code, reason)
			return
		}
		c.metrics.IncBytesIn(len(data))

		m, err := protocol.Decode(data)
		if err != nil {
			// Protocol errors are never fatal to the connection.
			c.metrics.IncMalformed()
			c.logger.Debug().Err(err).Str("module", "client").Msg("dropping malformed message")
			continue
		}
		c.metrics.IncMessageIn(m.Type)
		c.dispatch(m)
	}
}

// dispatch routes one inbound message into application state.
func (c *Client) dispatch(m protocol.Message) {
	switch {
	case m.Type == protocol.TypeUserList:
		roster := protocol.SplitRoster(m.Content)
		c.mu.Lock()
		c.roster = roster
		c.mu.Unlock()
		if c.events.RosterReplaced != nil {
			c.events.RosterReplaced(append([]string(nil), roster...))
		}

	case m.Type == protocol.TypeRoomClosed:
		// Clear before surfacing the closure, so any transport loss that
		// follows the broadcast finds no record and schedules nothing.
		c.store.Clear()
		c.clock.AfterFunc(c.graceDelay, func() {
			c.leaveOnce.Do(func() {
				c.logger.Info().Str("module", "client").Msg("room closed by host; leaving")
				if c.events.LeaveRoom != nil {
					c.events.LeaveRoom()
				}
			})
		})
		c.appendTranscript(m)

	case m.Type.Transcript():
		c.appendTranscript(m)

	default:
		// Upload plumbing and anything else addressed to the reassembling
		// receiver, which we are not.
		c.logger.Debug().Str("module", "client").Str("type", string(m.Type)).
			Msg("ignoring non-display message")
	}
}

func (c *Client) appendTranscript(m protocol.Message) {
	c.mu.Lock()
	c.transcript = append(c.transcript, m)
	c.mu.Unlock()
	if c.events.TranscriptAppended != nil {
		c.events.TranscriptAppended(m)
	}
}

// Transcript returns a copy of the ordered display-worthy messages.
func (c *Client) Transcript() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.transcript...)
}

// Roster returns a copy of the current participant snapshot.
func (c *Client) Roster() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.roster...)
}

// Status returns the current connection readout.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Session returns the session this client serves.
func (c *Client) Session() session.Session {
	return c.sess
}

func (c *Client) statusLocked() Status {
	return Status{
		State:        c.state,
		Reconnecting: c.retrying,
		Attempt:      c.attempt,
		Terminal:     c.terminal,
		CloseCode:    c.closeCode,
		CloseReason:  c.closeReason,
	}
}

func (c *Client) notifyStatus(st Status) {
	c.metrics.SetState(st.State)
	if c.events.StatusChanged != nil {
		c.events.StatusChanged(st)
	}
}

func (c *Client) notify(n Notice) {
	if c.events.Notice != nil {
		c.events.Notice(n)
	}
}
