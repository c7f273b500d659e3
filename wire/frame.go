// Package wire implements the JobHub wire protocol, a frame-based protocol
// spoken over a WebSocket. A client opens with a hello frame carrying its
// token and codec choice, then subscribes to job events; the server pushes
// event, output, gap and degraded frames for each subscription.
package wire

import (
	"encoding/json"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/id"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FramePush     FrameType = "push"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the wire envelope. Every message exchanged over the protocol is
// a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the request operation or the pushed payload.
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request, and a push to
	// the subscription it belongs to.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Data carries the method-specific payload as JSON.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Seq is the event sequence number on event pushes.
	Seq uint64 `json:"seq,omitempty" msgpack:"seq,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in an error frame. Code follows the HTTP
// status the same failure maps to on the REST surface.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Methods.
const (
	MethodHello       = "hello"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	MethodEvent    = "event"
	MethodOutput   = "output"
	MethodGap      = "gap"
	MethodDegraded = "degraded"
)

// Error codes.
const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeInternal       = 500
	ErrCodeUnavailable    = 503
)

// Hello opens a session. It is always sent as JSON.
type Hello struct {
	Token string `json:"token,omitempty"`
	Codec string `json:"codec,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// Welcome answers a hello.
type Welcome struct {
	Codec     string `json:"codec"`
	SessionID string `json:"session_id"`
	LastSeq   uint64 `json:"last_seq"`
}

// SubscribeRequest opens a subscription. JobID is a job id or "*" for
// every job the session's owner can see.
type SubscribeRequest struct {
	JobID  string `json:"job_id"`
	After  uint64 `json:"after,omitempty"`
	Resume bool   `json:"resume,omitempty"`
	Output bool   `json:"output,omitempty"`
}

// SubscribeResponse confirms a subscription. Pushes for it carry
// SubscriptionID as their CorrelID.
type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
	Cursor         uint64 `json:"cursor"`
}

// UnsubscribeRequest closes a subscription.
type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// Degraded ends a subscription that could not keep up.
type Degraded struct {
	Cursor uint64 `json:"cursor"`
	Reason string `json:"reason"`
}

// Wildcard selects every visible job in a SubscribeRequest.
const Wildcard = "*"

// ParseTarget converts a SubscribeRequest.JobID into a job id. The
// wildcard and the empty string yield the nil id.
func ParseTarget(s string) (id.JobID, error) {
	if s == "" || s == Wildcard {
		return id.Nil, nil
	}
	return id.ParseJobID(s)
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(method string, data any) (*Frame, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameErr,
		CorrelID:  correlID,
		Error:     &ErrorDetail{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
}

// NewPushFrame creates a server push for a subscription.
func NewPushFrame(subID, method string, seq uint64, data any) (*Frame, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FramePush,
		Method:    method,
		CorrelID:  subID,
		Data:      raw,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewFrameID returns a new unique frame id.
func NewFrameID() string { return id.NewFrameID().String() }

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}
