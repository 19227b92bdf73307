// Package capture manages the lifecycle of an in-progress voice-note
// recording, including the press-and-slide-to-cancel gesture.
//
// The audio input is a scoped resource: acquired on entering Capturing and
// unconditionally released on every exit path — send, cancel, and the
// auto-stop at the duration cap.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ephemeralchat/roomlink/pkg/protocol"
	"github.com/ephemeralchat/roomlink/pkg/session"
)

const (
	// SlideCancelThreshold is the leftward displacement, in pixels, past
	// which releasing the gesture cancels instead of sending.
	SlideCancelThreshold = 50.0

	// MaxDuration caps a recording; reaching it stops and sends.
	MaxDuration = 300 * time.Second
)

// Capture errors.
var (
	ErrBusy   = errors.New("capture: recording already in progress")
	ErrSource = errors.New("capture: audio input unavailable")
)

// State is the capture lifecycle position.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateSending
	StateCancelled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCapturing:
		return "Capturing"
	case StateSending:
		return "Sending"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Outcome is how a recording ended.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeCancelled
)

// Recording is an acquired audio input.
type Recording interface {
	// Stop ends capture, releases the input, and returns the encoded audio
	// and its MIME type.
	Stop() (data []byte, mime string, err error)

	// Discard ends capture and releases the input without producing audio.
	Discard()
}

// Source acquires the audio input resource.
type Source interface {
	Acquire(ctx context.Context) (Recording, error)
}

// Sender transmits protocol messages; the connection manager satisfies it.
type Sender interface {
	Send(protocol.Message) error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMaxDuration overrides the recording cap.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) { r.maxDuration = d }
}

// Recorder is the capture state machine for one session. It is the sole
// owner of the recording resource between start and stop.
type Recorder struct {
	source      Source
	sender      Sender
	sess        session.Session
	logger      zerolog.Logger
	maxDuration time.Duration
	now         func() time.Time

	mu            sync.Mutex
	state         State
	rec           Recording
	startedAt     time.Time
	anchorX       float64
	hasAnchor     bool
	cancelPending bool
	capTimer      *time.Timer
}

// NewRecorder builds a Recorder that sends AUDIO messages through sender.
func NewRecorder(source Source, sender Sender, sess session.Session, opts ...Option) *Recorder {
	r := &Recorder{
		source:      source,
		sender:      sender,
		sess:        sess,
		logger:      zerolog.Nop(),
		maxDuration: MaxDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins capturing from a plain button press (no gesture anchor).
func (r *Recorder) Start(ctx context.Context) error {
	return r.start(ctx, 0, false)
}

// Press begins capturing from a touch-start at horizontal position x; the
// position anchors the slide-to-cancel gesture.
func (r *Recorder) Press(ctx context.Context, x float64) error {
	return r.start(ctx, x, true)
}

func (r *Recorder) start(ctx context.Context, x float64, anchored bool) error {
	r.mu.Lock()
	if r.state == StateCapturing {
		r.mu.Unlock()
		return ErrBusy
	}
	r.mu.Unlock()

	rec, err := r.source.Acquire(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("module", "capture").Msg("audio input acquire failed")
		return fmt.Errorf("%w: %v", ErrSource, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCapturing {
		// Lost the race to another start; release the extra acquisition.
		rec.Discard()
		return ErrBusy
	}

	r.state = StateCapturing
	r.rec = rec
	r.startedAt = r.now()
	r.anchorX = x
	r.hasAnchor = anchored
	r.cancelPending = false
	r.capTimer = time.AfterFunc(r.maxDuration, r.autoStop)

	r.logger.Debug().Str("module", "capture").Msg("recording started")
	return nil
}

// Move updates the slide-to-cancel flag from the current horizontal
// position. The flag is reversible: sliding back past the threshold clears
// it.
func (r *Recorder) Move(x float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing || !r.hasAnchor {
		return
	}
	r.cancelPending = x-r.anchorX < -SlideCancelThreshold
}

// Release ends a touch gesture: cancel if slide-to-cancel is flagged,
// otherwise stop and send.
func (r *Recorder) Release() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return OutcomeCancelled, nil
	}
	return r.stopLocked(!r.cancelPending)
}

// Stop ends the recording explicitly, sending the captured audio when send
// is true and discarding it otherwise.
func (r *Recorder) Stop(send bool) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return OutcomeCancelled, nil
	}
	return r.stopLocked(send)
}

// autoStop fires at the duration cap: stop and send.
func (r *Recorder) autoStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return
	}
	r.logger.Info().Str("module", "capture").Msg("duration cap reached")
	_, _ = r.stopLocked(true)
}

func (r *Recorder) stopLocked(send bool) (Outcome, error) {
	if r.capTimer != nil {
		r.capTimer.Stop()
		r.capTimer = nil
	}
	rec := r.rec
	r.rec = nil
	r.hasAnchor = false
	r.cancelPending = false

	if !send {
		r.state = StateCancelled
		rec.Discard()
		r.state = StateIdle
		r.logger.Debug().Str("module", "capture").Msg("recording cancelled")
		return OutcomeCancelled, nil
	}

	r.state = StateSending
	data, mime, err := rec.Stop()
	r.state = StateIdle
	if err != nil {
		r.logger.Warn().Err(err).Str("module", "capture").Msg("recording stop failed")
		return OutcomeSent, fmt.Errorf("capture: stop recording: %w", err)
	}
	if mime == "" {
		mime = "audio/webm"
	}

	msg := protocol.Message{
		Type:    protocol.TypeAudio,
		Content: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		Sender:  r.sess.Username,
		RoomID:  r.sess.RoomID,
	}
	if err := r.sender.Send(msg); err != nil {
		r.logger.Warn().Err(err).Str("module", "capture").Msg("voice note dropped")
		return OutcomeSent, fmt.Errorf("capture: send voice note: %w", err)
	}
	r.logger.Debug().Str("module", "capture").Int("bytes", len(data)).Msg("voice note sent")
	return OutcomeSent, nil
}

// State returns the current lifecycle position.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CancelPending reports whether releasing now would cancel.
func (r *Recorder) CancelPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelPending
}

// Elapsed returns how long the current recording has been running.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return 0
	}
	return r.now().Sub(r.startedAt)
}
