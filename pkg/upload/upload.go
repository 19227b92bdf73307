package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ephemeralchat/roomlink/pkg/protocol"
	"github.com/ephemeralchat/roomlink/pkg/session"
)

const (
	// ChunkSize is the payload slice size in bytes. A multiple of 3, so the
	// base64 form of every chunk carries no padding and each transmitted
	// chunk is an independently decodable unit.
	ChunkSize = 524286

	// MaxFileSize is the hard ceiling on a single transfer.
	MaxFileSize = 200 * 1024 * 1024

	// DefaultPace is the pause between chunks. A self-imposed rate limit on
	// the outbound transport buffer, not an acknowledgment scheme.
	DefaultPace = 10 * time.Millisecond
)

// Upload errors.
var (
	ErrTooLarge = errors.New("upload: file exceeds 200MB limit")
	ErrEmpty    = errors.New("upload: empty file")
	ErrBusy     = errors.New("upload: transfer already in progress")
)

// Sender transmits protocol messages. The connection manager satisfies this;
// the pipeline never touches the socket directly.
type Sender interface {
	Send(protocol.Message) error
}

// Progress is the caller-visible readout for an in-flight transfer.
type Progress struct {
	FileName string
	Percent  int
}

// File describes the payload to transfer. Size must be known up front; the
// content is read sequentially, one chunk at a time.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithPace overrides the inter-chunk pause.
func WithPace(pace time.Duration) Option {
	return func(u *Uploader) { u.pace = pace }
}

// WithProgress registers the progress callback. It receives updates after
// every chunk and nil when the transfer finishes or aborts.
func WithProgress(fn func(*Progress)) Option {
	return func(u *Uploader) { u.onProgress = fn }
}

// Uploader drives chunked transfers for one sender. At most one transfer may
// be in flight at a time; the protocol assumes no interleaving per sender.
type Uploader struct {
	sender     Sender
	logger     zerolog.Logger
	pace       time.Duration
	onProgress func(*Progress)
	tracer     trace.Tracer

	mu     sync.Mutex
	active bool
}

// NewUploader builds an Uploader that hands messages to sender.
func NewUploader(sender Sender, opts ...Option) *Uploader {
	u := &Uploader{
		sender: sender,
		logger: zerolog.Nop(),
		pace:   DefaultPace,
		tracer: otel.Tracer("roomlink/upload"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Classify maps a declared content type to the final transcript variant.
func Classify(contentType string) protocol.Type {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return protocol.TypeImage
	case strings.HasPrefix(contentType, "video/"):
		return protocol.TypeVideo
	default:
		return protocol.TypeFile
	}
}

// TotalChunks returns the chunk count for a payload of size bytes.
func TotalChunks(size int64) int {
	return int((size + ChunkSize - 1) / ChunkSize)
}

// Upload slices the file into chunks and drives the three-phase handshake:
// one UPLOAD_START, the chunks in index order, one UPLOAD_END. It blocks for
// the duration of the transfer; cancel via ctx. A failed send abandons the
// task — the partial upload is discarded, never retried.
func (u *Uploader) Upload(ctx context.Context, file File, sess session.Session) error {
	if file.Size > MaxFileSize {
		u.logger.Warn().Str("module", "upload").Str("file", file.Name).
			Int64("size", file.Size).Msg("file exceeds size ceiling")
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, file.Size)
	}
	if file.Size <= 0 {
		return ErrEmpty
	}

	u.mu.Lock()
	if u.active {
		u.mu.Unlock()
		return ErrBusy
	}
	u.active = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.active = false
		u.mu.Unlock()
	}()

	kind := Classify(file.ContentType)
	uploadID := newUploadID()
	totalChunks := TotalChunks(file.Size)

	ctx, span := u.tracer.Start(ctx, "upload.transfer", trace.WithAttributes(
		attribute.String("upload.id", uploadID),
		attribute.String("upload.kind", string(kind)),
		attribute.Int("upload.total_chunks", totalChunks),
		attribute.Int64("upload.size_bytes", file.Size),
	))
	defer span.End()

	u.logger.Info().Str("module", "upload").Str("file", file.Name).
		Str("upload_id", uploadID).Int("chunks", totalChunks).Msg("transfer started")

	err := u.sender.Send(protocol.Message{
		Type:        protocol.TypeUploadStart,
		Sender:      sess.Username,
		RoomID:      sess.RoomID,
		FileName:    file.Name,
		FileType:    string(kind),
		UploadID:    uploadID,
		TotalChunks: totalChunks,
	})
	if err != nil {
		return u.abort(span, uploadID, err)
	}
	u.progress(&Progress{FileName: file.Name, Percent: 0})

	buf := make([]byte, ChunkSize)
	for i := 0; i < totalChunks; i++ {
		n := ChunkSize
		if rem := file.Size - int64(i)*ChunkSize; rem < int64(n) {
			n = int(rem)
		}
		if _, err := io.ReadFull(file.Content, buf[:n]); err != nil {
			return u.abort(span, uploadID, fmt.Errorf("read chunk %d: %w", i, err))
		}

		err := u.sender.Send(protocol.Message{
			Type:       protocol.TypeUploadChunk,
			Content:    base64.StdEncoding.EncodeToString(buf[:n]),
			Sender:     sess.Username,
			RoomID:     sess.RoomID,
			UploadID:   uploadID,
			ChunkIndex: i,
		})
		if err != nil {
			return u.abort(span, uploadID, err)
		}

		u.progress(&Progress{
			FileName: file.Name,
			Percent:  int(math.Round(float64(i+1) / float64(totalChunks) * 100)),
		})

		if i < totalChunks-1 {
			select {
			case <-ctx.Done():
				return u.abort(span, uploadID, ctx.Err())
			case <-time.After(u.pace):
			}
		}
	}

	err = u.sender.Send(protocol.Message{
		Type:     protocol.TypeUploadEnd,
		Sender:   sess.Username,
		RoomID:   sess.RoomID,
		UploadID: uploadID,
		FileName: file.Name,
		FileType: file.ContentType,
	})
	if err != nil {
		return u.abort(span, uploadID, err)
	}

	u.progress(nil)
	span.SetStatus(codes.Ok, "")
	u.logger.Info().Str("module", "upload").Str("upload_id", uploadID).Msg("transfer complete")
	return nil
}

// abort discards the task: progress is cleared and nothing is retried. The
// receiver's partial buffer is its own problem; the new connection shares no
// state with this transfer.
func (u *Uploader) abort(span trace.Span, uploadID string, err error) error {
	u.progress(nil)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	u.logger.Warn().Err(err).Str("module", "upload").
		Str("upload_id", uploadID).Msg("transfer abandoned")
	return fmt.Errorf("upload: transfer abandoned: %w", err)
}

func (u *Uploader) progress(p *Progress) {
	if u.onProgress != nil {
		u.onProgress(p)
	}
}

// newUploadID returns a short random token, collision-free for the lifetime
// of a room.
func newUploadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}
