// Package gemini is a Gemini Live client speaking the raw
// BidiGenerateContent WebSocket protocol.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
)

// DefaultEndpoint is the public Live API WebSocket endpoint
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	setupTimeout = 15 * time.Second
	writeTimeout = 10 * time.Second
)

// Dialer opens Live sessions over WebSocket
type Dialer struct {
	log *logger.Logger
	ws  *websocket.Dialer
}

// NewDialer creates a Dialer
func NewDialer(log *logger.Logger) *Dialer {
	if log == nil {
		log = logger.Discard()
	}
	return &Dialer{
		log: log.With("component", "transport", "backend", "websocket"),
		ws:  websocket.DefaultDialer,
	}
}

func endpointURL(config transport.Config) (string, error) {
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", config.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the endpoint, sends the setup message and waits for setupComplete
func (d *Dialer) Open(ctx context.Context, config transport.Config) (transport.Session, error) {
	if err := config.Validate(); err != nil {
		return nil, &transport.ConnectionError{Op: "configure", Err: err}
	}

	wsURL, err := endpointURL(config)
	if err != nil {
		return nil, &transport.ConnectionError{Op: "configure", Err: err}
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, setupTimeout)
		defer cancel()
	}

	conn, resp, err := d.ws.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, &transport.ConnectionError{Op: "dial", Err: err}
	}

	if err := conn.WriteJSON(newSetup(config)); err != nil {
		conn.Close()
		return nil, &transport.ConnectionError{Op: "setup", Err: err}
	}

	if err := awaitSetup(dialCtx, conn); err != nil {
		conn.Close()
		return nil, &transport.ConnectionError{Op: "setup", Err: err}
	}

	s := &session{conn: conn, log: d.log}
	s.stream = transport.NewStream(config.SendQueue, s.write, d.log)
	go s.readLoop()

	d.log.Info("Live session opened: %s", config.Model)
	return s, nil
}

// awaitSetup reads frames until setupComplete, the deadline or cancellation
func awaitSetup(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		// Unblocks ReadMessage below
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("waiting for setupComplete: %w", err)
		}
		f, err := decode(data)
		if err != nil {
			return err
		}
		if f.setupComplete {
			return nil
		}
	}
}

type session struct {
	conn   *websocket.Conn
	stream *transport.Stream
	log    *logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   bool
	mu        sync.Mutex
}

func (s *session) Send(chunk pcm.EncodedChunk) error {
	return s.stream.Send(chunk)
}

func (s *session) Events() <-chan transport.Event {
	return s.stream.Events()
}

func (s *session) write(chunk pcm.EncodedChunk) error {
	msg := clientMessage{RealtimeInput: &realtimeInput{Audio: &chunk}}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Close sends a normal close frame and tears the connection down
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
		s.stream.Finish("closed by client")
	})
	return nil
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *session) readLoop() {
	reason := "connection closed"
	defer func() {
		s.stream.Finish(reason)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case s.isClosing():
				reason = "closed by client"
			case errors.As(err, &closeErr):
				reason = closeErr.Text
				if reason == "" {
					reason = fmt.Sprintf("closed by server (%d)", closeErr.Code)
				}
				if closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway {
					s.stream.Emit(transport.ErrorEvent{Err: err})
				}
			default:
				s.stream.Emit(transport.ErrorEvent{Err: err})
			}
			return
		}

		// Text and binary frames both carry JSON
		f, err := decode(data)
		if err != nil {
			s.log.Warn("Dropping malformed message: %v", err)
			continue
		}
		for _, err := range f.dropped {
			s.log.Warn("Dropping malformed audio part: %v", err)
		}
		if f.goAway != nil {
			s.log.Warn("Server is going away, time left: %s", f.goAway.TimeLeft)
		}
		for _, ev := range f.events {
			if !s.stream.Emit(ev) {
				return
			}
		}
	}
}
