package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/JadKHaddad-ORG/JobHub/wire"
)

// ErrConnClosed is returned by calls on a closed or dropped connection.
var ErrConnClosed = errors.New("jobhub/client: connection closed")

// requestTimeout bounds a request when ctx has no deadline.
const requestTimeout = 10 * time.Second

// Conn is a wire protocol session over a WebSocket.
type Conn struct {
	client *Client
	url    string
	codec  wire.Codec
	logger *slog.Logger

	wmu sync.Mutex

	mu        sync.Mutex
	conn      net.Conn
	sessionID string
	lastSeq   uint64
	pending   map[string]*call
	subs      map[string]*Subscription

	closed atomic.Bool
}

// call is one in-flight request. A subscribe call carries the local
// subscription so the read loop can bind it before any push arrives.
type call struct {
	ch  chan *wire.Frame
	sub *Subscription
}

// Connect opens a streaming connection to /api/ws and sends hello.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	codec, ok := wire.GetCodec(c.format)
	if !ok {
		return nil, fmt.Errorf("jobhub/client: unknown format %q", c.format)
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/api/ws"

	cn := &Conn{
		client:  c,
		url:     u.String(),
		codec:   codec,
		logger:  c.logger,
		pending: make(map[string]*call),
		subs:    make(map[string]*Subscription),
	}
	conn, err := cn.dial(ctx)
	if err != nil {
		return nil, err
	}
	cn.conn = conn
	go cn.readLoop(conn)
	return cn, nil
}

// dial establishes the WebSocket and completes the hello exchange. It
// reads the welcome directly since no read loop runs yet.
func (cn *Conn) dial(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, cn.url)
	if err != nil {
		return nil, fmt.Errorf("jobhub/client: websocket dial: %w", err)
	}

	hello, err := wire.NewRequestFrame(wire.MethodHello, wire.Hello{
		Token: cn.client.token,
		Codec: cn.codec.Name(),
		Owner: cn.client.owner,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	data, err := wire.JSONCodec{}.Encode(hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("jobhub/client: write hello: %w", err)
	}

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	raw, op, err := wsutil.ReadServerData(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jobhub/client: read welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	resp, err := wire.DecodeFrame(raw, op)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jobhub/client: decode welcome: %w", err)
	}
	if resp.Type == wire.FrameErr {
		conn.Close()
		return nil, frameError(resp)
	}
	var welcome wire.Welcome
	if err := json.Unmarshal(resp.Data, &welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("jobhub/client: decode welcome: %w", err)
	}

	cn.mu.Lock()
	cn.sessionID = welcome.SessionID
	cn.lastSeq = welcome.LastSeq
	cn.mu.Unlock()
	cn.logger.Debug("wire session opened",
		slog.String("session_id", welcome.SessionID),
		slog.String("codec", welcome.Codec),
	)
	return conn, nil
}

// SessionID returns the id the server assigned at hello.
func (cn *Conn) SessionID() string {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.sessionID
}

// LastSeq returns the server's newest event sequence number at hello.
func (cn *Conn) LastSeq() uint64 {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.lastSeq
}

// Subscribe opens a subscription. Messages arrive on the returned
// subscription's channel until it is closed.
func (cn *Conn) Subscribe(ctx context.Context, req wire.SubscribeRequest) (*Subscription, error) {
	sub := newSubscription(cn, req)
	if _, err := cn.subscribe(ctx, sub, req); err != nil {
		return nil, err
	}
	return sub, nil
}

func (cn *Conn) subscribe(ctx context.Context, sub *Subscription, req wire.SubscribeRequest) (*wire.Frame, error) {
	frame, err := wire.NewRequestFrame(wire.MethodSubscribe, req)
	if err != nil {
		return nil, err
	}
	return cn.roundTrip(ctx, frame, sub)
}

// Ping measures the round trip to the server.
func (cn *Conn) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	frame := &wire.Frame{ID: wire.NewFrameID(), Type: wire.FramePing, Timestamp: start.UTC()}
	if _, err := cn.roundTrip(ctx, frame, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (cn *Conn) unsubscribe(ctx context.Context, subID string) error {
	frame, err := wire.NewRequestFrame(wire.MethodUnsubscribe, wire.UnsubscribeRequest{SubscriptionID: subID})
	if err != nil {
		return err
	}
	_, err = cn.roundTrip(ctx, frame, nil)
	return err
}

// roundTrip sends frame and waits for the frame correlated to it.
func (cn *Conn) roundTrip(ctx context.Context, frame *wire.Frame, sub *Subscription) (*wire.Frame, error) {
	if cn.closed.Load() {
		return nil, ErrConnClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	cl := &call{ch: make(chan *wire.Frame, 1), sub: sub}
	cn.mu.Lock()
	cn.pending[frame.ID] = cl
	conn := cn.conn
	cn.mu.Unlock()
	defer func() {
		cn.mu.Lock()
		delete(cn.pending, frame.ID)
		cn.mu.Unlock()
	}()

	if err := cn.write(conn, frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-cl.ch:
		if resp == nil {
			return nil, ErrConnClosed
		}
		if resp.Type == wire.FrameErr {
			return nil, frameError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cn *Conn) write(conn net.Conn, frame *wire.Frame) error {
	data, err := cn.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("jobhub/client: encode frame: %w", err)
	}
	cn.wmu.Lock()
	defer cn.wmu.Unlock()
	if err := wsutil.WriteClientMessage(conn, cn.codec.OpCode(), data); err != nil {
		return fmt.Errorf("jobhub/client: write frame: %w", err)
	}
	return nil
}

// readLoop reads frames from one underlying connection and routes them.
func (cn *Conn) readLoop(conn net.Conn) {
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			cn.dropped(conn, err)
			return
		}
		frame, err := wire.DecodeFrame(data, op)
		if err != nil {
			cn.logger.Warn("jobhub/client: invalid frame", slog.String("error", err.Error()))
			continue
		}

		switch frame.Type {
		case wire.FrameResponse, wire.FrameErr, wire.FramePong:
			if cn.complete(frame) {
				continue
			}
			// An error correlated to a subscription ends it.
			if frame.Type == wire.FrameErr {
				if sub := cn.takeSub(frame.CorrelID); sub != nil {
					sub.close(frameError(frame))
				}
			}
		case wire.FramePush:
			cn.push(frame)
		}
	}
}

// complete hands frame to the waiting request, binding a new subscription
// first so pushes that follow find it.
func (cn *Conn) complete(frame *wire.Frame) bool {
	cn.mu.Lock()
	cl, ok := cn.pending[frame.CorrelID]
	if ok && cl.sub != nil && frame.Type == wire.FrameResponse {
		var sr wire.SubscribeResponse
		if err := json.Unmarshal(frame.Data, &sr); err == nil {
			cl.sub.bind(sr.SubscriptionID, sr.Cursor)
			cn.subs[sr.SubscriptionID] = cl.sub
		}
	}
	cn.mu.Unlock()
	if ok {
		select {
		case cl.ch <- frame:
		default:
		}
	}
	return ok
}

func (cn *Conn) push(frame *wire.Frame) {
	cn.mu.Lock()
	sub := cn.subs[frame.CorrelID]
	cn.mu.Unlock()
	if sub == nil {
		return
	}

	m, err := decodePush(frame)
	if err != nil {
		cn.logger.Warn("jobhub/client: invalid push", slog.String("error", err.Error()))
		return
	}
	if m.Kind != KindDegraded {
		sub.deliver(m)
		return
	}

	cn.takeSub(frame.CorrelID)
	if cn.client.reconnect {
		go cn.resume(sub)
		return
	}
	sub.deliver(m)
	sub.close(errDegraded)
}

func (cn *Conn) takeSub(subID string) *Subscription {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	sub := cn.subs[subID]
	delete(cn.subs, subID)
	return sub
}

// resume resubscribes sub from the last event it delivered.
func (cn *Conn) resume(sub *Subscription) {
	req := sub.req
	req.Resume = true
	req.After = sub.Cursor()
	if _, err := cn.subscribe(context.Background(), sub, req); err != nil {
		sub.close(err)
	}
}

// dropped handles the end of conn's read loop.
func (cn *Conn) dropped(conn net.Conn, err error) {
	cn.mu.Lock()
	if cn.conn != conn {
		cn.mu.Unlock()
		return
	}
	subs := cn.subs
	cn.subs = make(map[string]*Subscription)
	for key, cl := range cn.pending {
		delete(cn.pending, key)
		select {
		case cl.ch <- nil:
		default:
		}
	}
	cn.mu.Unlock()

	if cn.closed.Load() {
		for _, sub := range subs {
			sub.close(nil)
		}
		return
	}
	cn.logger.Warn("jobhub/client: connection lost", slog.String("error", err.Error()))

	if !cn.client.reconnect || !cn.redial() {
		cn.closed.Store(true)
		for _, sub := range subs {
			sub.close(ErrConnClosed)
		}
		return
	}
	for _, sub := range subs {
		go cn.resume(sub)
	}
}

// redial reconnects with exponential backoff.
func (cn *Conn) redial() bool {
	delay := cn.client.baseDelay
	for i := range cn.client.maxRetries {
		cn.logger.Info("jobhub/client: reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)
		if cn.closed.Load() {
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		conn, err := cn.dial(ctx)
		cancel()
		if err != nil {
			cn.logger.Warn("jobhub/client: reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		cn.mu.Lock()
		cn.conn = conn
		cn.mu.Unlock()
		go cn.readLoop(conn)
		return true
	}
	cn.logger.Error("jobhub/client: max reconnection attempts reached")
	return false
}

// Close ends the session and every subscription on it.
func (cn *Conn) Close() error {
	if cn.closed.Swap(true) {
		return nil
	}
	cn.mu.Lock()
	conn := cn.conn
	cn.mu.Unlock()
	return conn.Close()
}

func frameError(f *wire.Frame) error {
	if f.Error == nil {
		return &Error{Status: wire.ErrCodeInternal, Message: "unknown error"}
	}
	return &Error{Status: f.Error.Code, Message: f.Error.Message}
}
