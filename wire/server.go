package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// Hub is the part of the job hub a wire server needs.
type Hub interface {
	Subscribe(ctx context.Context, owner string, f stream.Filter, opts stream.SubscribeOptions) (*stream.Subscription, error)
	Unsubscribe(sub *stream.Subscription)
	LastSeq() uint64
}

// OwnerHeader carries the caller's owner id on HTTP requests.
const OwnerHeader = "X-Owner"

// DefaultHelloTimeout bounds how long a new connection may stay silent.
const DefaultHelloTimeout = 10 * time.Second

// Server accepts WebSocket connections and serves the wire protocol.
type Server struct {
	hub          Hub
	auth         Authenticator
	sessions     *SessionManager
	logger       *slog.Logger
	helloTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAuth sets the authenticator. Without one every hello is accepted.
func WithAuth(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithLogger sets the logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHelloTimeout bounds the wait for the hello frame.
func WithHelloTimeout(d time.Duration) Option {
	return func(s *Server) { s.helloTimeout = d }
}

// NewServer creates a wire server over h.
func NewServer(h Hub, opts ...Option) *Server {
	s := &Server{
		hub:          h,
		auth:         NoopAuthenticator{},
		sessions:     NewSessionManager(),
		logger:       slog.Default(),
		helloTimeout: DefaultHelloTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// ServeHTTP upgrades the request and serves the connection until it
// closes. The X-Owner header is the session owner unless hello names one.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("wire: upgrade failed", slog.String("error", err.Error()))
		return
	}
	if err := s.Serve(r.Context(), conn, r.Header.Get(OwnerHeader)); err != nil {
		s.logger.Debug("wire: session ended", slog.String("error", err.Error()))
	}
}

// Close drops every session.
func (s *Server) Close() {
	for _, sess := range s.sessions.All() {
		_ = sess.Close()
	}
}

// Serve runs the protocol on an upgraded connection and closes it on
// return.
func (s *Server) Serve(ctx context.Context, conn net.Conn, owner string) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := s.handshake(ctx, conn, owner)
	if err != nil {
		return err
	}
	s.sessions.Add(sess)
	defer func() {
		for _, sub := range sess.takeAll() {
			s.hub.Unsubscribe(sub)
		}
		s.sessions.Remove(sess.ID)
		s.logger.Info("wire session closed", slog.String("session_id", sess.ID))
	}()

	s.logger.Info("wire session opened",
		slog.String("session_id", sess.ID),
		slog.String("owner", sess.Owner),
		slog.String("codec", sess.Codec.Name()),
	)

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return nil
		}
		sess.Touch()

		frame, decErr := DecodeFrame(data, op)
		if decErr != nil {
			s.reply(sess, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		switch frame.Type {
		case FramePing:
			s.reply(sess, &Frame{
				ID:        NewFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: time.Now().UTC(),
			})
		case FrameRequest:
			s.reply(sess, s.handle(ctx, sess, frame))
		default:
			s.reply(sess, NewErrorFrame(frame.ID, ErrCodeBadRequest, "unexpected frame type "+string(frame.Type)))
		}
	}
}

// handshake reads the hello frame, authenticates and negotiates the codec.
// Hello is always JSON.
func (s *Server) handshake(ctx context.Context, conn net.Conn, owner string) (*Session, error) {
	fail := func(correlID string, code int, msg string) error {
		data, _ := JSONCodec{}.Encode(NewErrorFrame(correlID, code, msg))
		_ = wsutil.WriteServerMessage(conn, ws.OpText, data)
		return fmt.Errorf("wire: handshake: %s", msg)
	}

	if s.helloTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.helloTimeout))
	}
	data, _, err := wsutil.ReadClientData(conn)
	if err != nil {
		return nil, fmt.Errorf("wire: read hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := JSONCodec{}.Decode(data)
	if err != nil {
		return nil, fail("", ErrCodeBadRequest, "invalid hello frame")
	}
	if frame.Method != MethodHello {
		return nil, fail(frame.ID, ErrCodeBadRequest, "first frame must be hello")
	}
	var hello Hello
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &hello); err != nil {
			return nil, fail(frame.ID, ErrCodeBadRequest, "invalid hello data")
		}
	}
	if err := s.auth.Authenticate(ctx, hello.Token); err != nil {
		return nil, fail(frame.ID, ErrCodeUnauthorized, "authentication failed")
	}
	codec, ok := GetCodec(hello.Codec)
	if !ok {
		return nil, fail(frame.ID, ErrCodeBadRequest, "unknown codec "+hello.Codec)
	}
	if hello.Owner != "" {
		owner = hello.Owner
	}

	sess := newSession(id.NewSessionID().String(), owner, codec, conn)
	resp, err := NewResponseFrame(frame.ID, Welcome{
		Codec:     codec.Name(),
		SessionID: sess.ID,
		LastSeq:   s.hub.LastSeq(),
	})
	if err != nil {
		return nil, err
	}
	if err := sess.write(resp); err != nil {
		return nil, fmt.Errorf("wire: write welcome: %w", err)
	}
	return sess, nil
}

func (s *Server) handle(ctx context.Context, sess *Session, frame *Frame) *Frame {
	switch frame.Method {
	case MethodSubscribe:
		return s.handleSubscribe(ctx, sess, frame)
	case MethodUnsubscribe:
		return s.handleUnsubscribe(sess, frame)
	case MethodHello:
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "session already open")
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

func (s *Server) handleSubscribe(ctx context.Context, sess *Session, frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid subscribe data")
	}
	jobID, err := ParseTarget(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	sub, err := s.hub.Subscribe(ctx, sess.Owner,
		stream.Filter{JobID: jobID, Output: req.Output},
		stream.SubscribeOptions{Resume: req.Resume, After: req.After},
	)
	if err != nil {
		return NewErrorFrame(frame.ID, StatusCode(err), err.Error())
	}
	sess.addSub(sub)

	resp, err := NewResponseFrame(frame.ID, SubscribeResponse{
		SubscriptionID: sub.ID().String(),
		Cursor:         sub.Cursor(),
	})
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, err.Error())
	}
	// The confirmation goes out before any push for the subscription.
	if err := sess.write(resp); err != nil {
		return nil
	}
	go s.forward(sess, sub)
	return nil
}

func (s *Server) handleUnsubscribe(sess *Session, frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid unsubscribe data")
	}
	sub, ok := sess.takeSub(req.SubscriptionID)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "no subscription "+req.SubscriptionID)
	}
	s.hub.Unsubscribe(sub)
	resp, err := NewResponseFrame(frame.ID, nil)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, err.Error())
	}
	return resp
}

// forward pushes a subscription's messages until it closes, then reports
// why it closed unless the client asked for it.
func (s *Server) forward(sess *Session, sub *stream.Subscription) {
	subID := sub.ID().String()
	for m := range sub.C() {
		frame, err := PushFrame(subID, m)
		if err != nil {
			s.logger.Warn("wire: encode push", slog.String("error", err.Error()))
			continue
		}
		if err := sess.write(frame); err != nil {
			_ = sess.Close()
			return
		}
	}

	reason := sub.Err()
	switch {
	case reason == nil:
		return
	case errors.Is(reason, stream.ErrDegraded):
		sess.takeSub(subID)
		frame, err := NewPushFrame(subID, MethodDegraded, 0, Degraded{
			Cursor: sub.Cursor(),
			Reason: reason.Error(),
		})
		if err == nil {
			_ = sess.write(frame)
		}
	default:
		sess.takeSub(subID)
		_ = sess.write(NewErrorFrame(subID, ErrCodeUnavailable, reason.Error()))
	}
}

// PushFrame converts a subscription message into a push frame.
func PushFrame(subID string, m *stream.Message) (*Frame, error) {
	switch m.Kind {
	case stream.KindEvent:
		return NewPushFrame(subID, MethodEvent, m.Event.Seq, m.Event)
	case stream.KindOutput:
		return NewPushFrame(subID, MethodOutput, 0, m.Output)
	case stream.KindGap:
		return NewPushFrame(subID, MethodGap, 0, m.Gap)
	default:
		return nil, fmt.Errorf("wire: unknown message kind %q", m.Kind)
	}
}

func (s *Server) reply(sess *Session, frame *Frame) {
	if frame == nil {
		return
	}
	if err := sess.write(frame); err != nil {
		s.logger.Warn("wire: write frame",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
}

// DecodeFrame picks the codec from the WebSocket opcode: text frames are
// JSON, binary frames are MessagePack.
func DecodeFrame(data []byte, op ws.OpCode) (*Frame, error) {
	if op == ws.OpBinary {
		return MsgpackCodec{}.Decode(data)
	}
	return JSONCodec{}.Decode(data)
}
