/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package obs implements the control surface over the OBS WebSocket v5 protocol.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/telemetry"
)

// Protocol opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

// Request status codes we branch on.
const (
	codeResourceNotFound      = 600
	codeResourceAlreadyExists = 601
)

const rpcVersion = 1

// Config holds client configuration.
type Config struct {
	URL            string
	Password       string
	RequestTimeout time.Duration
	DialTimeout    time.Duration
}

// DefaultConfig returns a configuration for a local OBS.
func DefaultConfig(url, password string) *Config {
	return &Config{
		URL:            url,
		Password:       password,
		RequestTimeout: 5 * time.Second,
		DialTimeout:    10 * time.Second,
	}
}

// RequestError is a request OBS answered with a failure status.
type RequestError struct {
	Type    string
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("obs %s failed (%d): %s", e.Type, e.Code, e.Comment)
}

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type hello struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// Client talks to one OBS instance.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan response
	connected atomic.Bool
	nextID    atomic.Uint64
}

// New creates a disconnected client.
func New(cfg *Config, logger zerolog.Logger) *Client {
	c := *cfg
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     c,
		logger:  logger.With().Str("component", "obs").Logger(),
		pending: make(map[string]chan response),
	}
}

var _ controlsurface.Surface = (*Client)(nil)

// Connect dials and completes the identify handshake.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	c.logger.Info().Str("url", c.cfg.URL).Msg("connecting to obs")
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{"obswebsocket.json"},
	})
	if err != nil {
		return fmt.Errorf("%w: dial: %v", controlsurface.ErrUnavailable, err)
	}
	conn.SetReadLimit(4 << 20)

	if err := c.handshake(ctx, conn); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan response)
	c.mu.Unlock()
	c.connected.Store(true)
	telemetry.ControlSurfaceConnected.Set(1)

	go c.readLoop(conn)

	c.logger.Info().Msg("connected to obs")
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return fmt.Errorf("%w: read hello: %v", controlsurface.ErrUnavailable, err)
	}
	if env.Op != opHello {
		return fmt.Errorf("obs: expected hello, got op %d", env.Op)
	}
	var h hello
	if err := json.Unmarshal(env.D, &h); err != nil {
		return fmt.Errorf("obs: decode hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("obs: server requires a password")
		}
		id.Authentication = authResponse(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := wsjson.Write(ctx, conn, outbound{Op: opIdentify, D: id}); err != nil {
		return fmt.Errorf("%w: identify: %v", controlsurface.ErrUnavailable, err)
	}

	if err := wsjson.Read(ctx, conn, &env); err != nil {
		// OBS closes the socket with 4009 on bad auth
		if websocket.CloseStatus(err) == 4009 {
			return errors.New("obs: authentication failed")
		}
		return fmt.Errorf("%w: read identified: %v", controlsurface.ErrUnavailable, err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("obs: expected identified, got op %d", env.Op)
	}
	c.logger.Debug().Str("obs_websocket_version", h.OBSWebSocketVersion).Msg("identified")
	return nil
}

// authResponse computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(context.Background(), conn, &env); err != nil {
			c.dropConnection(conn, err)
			return
		}
		switch env.Op {
		case opRequestResponse:
			var resp response
			if err := json.Unmarshal(env.D, &resp); err != nil {
				c.logger.Warn().Err(err).Msg("bad response frame")
				continue
			}
			c.mu.Lock()
			ch := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}
		case opEvent:
			// subscribed to none; ignore strays
		default:
			c.logger.Debug().Int("op", env.Op).Msg("unhandled frame")
		}
	}
}

func (c *Client) dropConnection(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan response)
	c.mu.Unlock()

	c.connected.Store(false)
	telemetry.ControlSurfaceConnected.Set(0)
	for _, ch := range pending {
		close(ch)
	}
	if err == nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.logger.Info().Msg("obs connection closed")
		return
	}
	c.logger.Warn().Err(err).Msg("obs connection lost")
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.logger.Info().Msg("closing obs connection")
	err := conn.Close(websocket.StatusNormalClosure, "")
	c.dropConnection(conn, err)
	return nil
}

// IsConnected reports whether the handshake completed and the socket is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// call sends a request and decodes responseData into out (which may be nil).
func (c *Client) call(ctx context.Context, requestType string, data any, out any) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: not connected", controlsurface.ErrUnavailable, requestType)
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	err := wsjson.Write(ctx, conn, outbound{Op: opRequest, D: request{RequestType: requestType, RequestID: id, RequestData: data}})
	if err != nil {
		forget()
		telemetry.ControlSurfaceErrorsTotal.WithLabelValues(requestType).Inc()
		return fmt.Errorf("%w: %s: %v", controlsurface.ErrUnavailable, requestType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			telemetry.ControlSurfaceErrorsTotal.WithLabelValues(requestType).Inc()
			return fmt.Errorf("%w: %s: connection lost", controlsurface.ErrUnavailable, requestType)
		}
		if !resp.RequestStatus.Result {
			telemetry.ControlSurfaceErrorsTotal.WithLabelValues(requestType).Inc()
			return &RequestError{Type: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("obs %s: decode: %w", requestType, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		telemetry.ControlSurfaceErrorsTotal.WithLabelValues(requestType).Inc()
		return fmt.Errorf("%w: %s: %v", controlsurface.ErrUnavailable, requestType, ctx.Err())
	}
}

func isCode(err error, code int) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Code == code
}

// SwitchTo sets the program scene.
func (c *Client) SwitchTo(ctx context.Context, scene string) error {
	return c.call(ctx, "SetCurrentProgramScene", map[string]any{"sceneName": scene}, nil)
}

// CurrentScene returns the program scene name.
func (c *Client) CurrentScene(ctx context.Context) (string, error) {
	var out struct {
		SceneName               string `json:"sceneName"`
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := c.call(ctx, "GetCurrentProgramScene", nil, &out); err != nil {
		return "", err
	}
	if out.SceneName != "" {
		return out.SceneName, nil
	}
	return out.CurrentProgramSceneName, nil
}

// EnsureSource creates the scene and the input when missing.
func (c *Client) EnsureSource(ctx context.Context, scene, kind, source string) error {
	var scenes struct {
		Scenes []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := c.call(ctx, "GetSceneList", nil, &scenes); err != nil {
		return err
	}
	found := false
	for _, s := range scenes.Scenes {
		if s.SceneName == scene {
			found = true
			break
		}
	}
	if !found {
		if err := c.call(ctx, "CreateScene", map[string]any{"sceneName": scene}, nil); err != nil && !isCode(err, codeResourceAlreadyExists) {
			return err
		}
		c.logger.Info().Str("scene", scene).Msg("created scene")
	}
	if kind == "" || source == "" {
		return nil
	}

	err := c.call(ctx, "GetInputSettings", map[string]any{"inputName": source}, nil)
	if err == nil {
		return nil
	}
	if !isCode(err, codeResourceNotFound) {
		return err
	}
	err = c.call(ctx, "CreateInput", map[string]any{
		"sceneName":        scene,
		"inputName":        source,
		"inputKind":        kind,
		"inputSettings":    map[string]any{"loop": true, "shuffle": false, "playlist": []any{}},
		"sceneItemEnabled": true,
	}, nil)
	if err != nil && !isCode(err, codeResourceAlreadyExists) {
		return err
	}
	c.logger.Info().Str("scene", scene).Str("source", source).Str("kind", kind).Msg("created input")
	return nil
}

// ReloadMediaSource loads every playable file in dir.
func (c *Client) ReloadMediaSource(ctx context.Context, source, dir string) error {
	names, err := media.List(dir)
	if err != nil {
		return err
	}
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = filepath.Join(dir, n)
	}
	return c.LoadMediaFiles(ctx, source, files)
}

// LoadMediaFiles replaces the source playlist.
func (c *Client) LoadMediaFiles(ctx context.Context, source string, files []string) error {
	playlist := make([]map[string]any, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		playlist = append(playlist, map[string]any{"value": abs, "hidden": false, "selected": false})
	}
	return c.call(ctx, "SetInputSettings", map[string]any{
		"inputName": source,
		"inputSettings": map[string]any{
			"loop":     true,
			"shuffle":  false,
			"playlist": playlist,
		},
		"overlay": false,
	}, nil)
}

// RenderHeartbeat returns renderTotalFrames.
func (c *Client) RenderHeartbeat(ctx context.Context) (uint64, error) {
	var out struct {
		RenderTotalFrames float64 `json:"renderTotalFrames"`
	}
	if err := c.call(ctx, "GetStats", nil, &out); err != nil {
		return 0, err
	}
	return uint64(out.RenderTotalFrames), nil
}

// StreamActive reports whether the stream output is running.
func (c *Client) StreamActive(ctx context.Context) (bool, error) {
	var out struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.call(ctx, "GetStreamStatus", nil, &out); err != nil {
		return false, err
	}
	return out.OutputActive, nil
}

// StartStream starts the stream output.
func (c *Client) StartStream(ctx context.Context) error {
	return c.call(ctx, "StartStream", nil, nil)
}

// MediaStatus returns the media input state and position.
func (c *Client) MediaStatus(ctx context.Context, source string) (controlsurface.MediaStatus, error) {
	var out struct {
		MediaState    string   `json:"mediaState"`
		MediaCursor   *float64 `json:"mediaCursor"`
		MediaDuration *float64 `json:"mediaDuration"`
	}
	if err := c.call(ctx, "GetMediaInputStatus", map[string]any{"inputName": source}, &out); err != nil {
		return controlsurface.MediaStatus{}, err
	}
	st := controlsurface.MediaStatus{State: out.MediaState}
	if out.MediaCursor != nil {
		st.Cursor = time.Duration(*out.MediaCursor) * time.Millisecond
	}
	if out.MediaDuration != nil {
		st.Duration = time.Duration(*out.MediaDuration) * time.Millisecond
	}
	return st, nil
}

// SeekMedia moves the media cursor.
func (c *Client) SeekMedia(ctx context.Context, source string, position time.Duration) error {
	return c.call(ctx, "SetMediaInputCursor", map[string]any{
		"inputName":   source,
		"mediaCursor": position.Milliseconds(),
	}, nil)
}

// NextMedia skips to the next playlist entry.
func (c *Client) NextMedia(ctx context.Context, source string) error {
	return c.call(ctx, "TriggerMediaInputAction", map[string]any{
		"inputName":   source,
		"mediaAction": "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_NEXT",
	}, nil)
}
