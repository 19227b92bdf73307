// Package directory is the read-only client for the room directory
// collaborator: plain request/response metadata fetched once before
// connecting. The metadata gates host-only affordances in the presentation
// layer; the wire protocol never consumes it.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Directory errors.
var (
	ErrRoomNotFound = errors.New("directory: room not found or inactive")
)

// RoomInfo is the directory's view of a room.
type RoomInfo struct {
	RoomName     string `json:"roomName"`
	HostUsername string `json:"hostUsername"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client fetches room metadata from the directory service.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// New builds a directory client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Room returns the metadata for roomID.
func (c *Client) Room(ctx context.Context, roomID string) (*RoomInfo, error) {
	u := c.base + "/api/chat/room/" + url.PathEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: fetch room: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}

	var info RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("directory: decode room info: %w", err)
	}
	c.logger.Debug().Str("module", "directory").Str("room", roomID).
		Str("host", info.HostUsername).Msg("room metadata fetched")
	return &info, nil
}
