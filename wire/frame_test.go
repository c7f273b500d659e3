package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gobwas/ws"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

func TestNewRequestFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewRequestFrame(MethodSubscribe, SubscribeRequest{JobID: Wildcard, Output: true})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	if frame.ID == "" {
		t.Error("ID should be generated")
	}
	if frame.Type != FrameRequest || frame.Method != MethodSubscribe {
		t.Errorf("frame = %s/%s", frame.Type, frame.Method)
	}
	if frame.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if req.JobID != Wildcard || !req.Output {
		t.Errorf("payload = %+v", req)
	}
}

func TestNewErrorFrame(t *testing.T) {
	t.Parallel()

	frame := NewErrorFrame("correl-2", ErrCodeNotFound, "not found")
	if frame.Type != FrameErr || frame.CorrelID != "correl-2" {
		t.Errorf("frame = %s correl %q", frame.Type, frame.CorrelID)
	}
	if frame.Error == nil || frame.Error.Code != ErrCodeNotFound || frame.Error.Message != "not found" {
		t.Errorf("error = %+v", frame.Error)
	}
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	in, err := NewPushFrame("sub_1", MethodEvent, 42, map[string]string{"to": "running"})
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{CodecNameJSON, CodecNameMsgpack} {
		codec, ok := GetCodec(name)
		if !ok {
			t.Fatalf("codec %q missing", name)
		}
		data, err := codec.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		out, err := DecodeFrame(data, codec.OpCode())
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if out.ID != in.ID || out.Type != FramePush || out.Method != MethodEvent || out.Seq != 42 || out.CorrelID != "sub_1" {
			t.Errorf("%s: frame = %+v", name, out)
		}
		if string(out.Data) != string(in.Data) {
			t.Errorf("%s: data = %s", name, out.Data)
		}
		if !out.Timestamp.Equal(in.Timestamp) {
			t.Errorf("%s: ts = %v, want %v", name, out.Timestamp, in.Timestamp)
		}
	}

	if c, _ := GetCodec(""); c.Name() != CodecNameJSON {
		t.Errorf("default codec = %s", c.Name())
	}
	if _, ok := GetCodec("protobuf"); ok {
		t.Error("unknown codec accepted")
	}
	if (JSONCodec{}).OpCode() != ws.OpText || (MsgpackCodec{}).OpCode() != ws.OpBinary {
		t.Error("unexpected opcodes")
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	jobID := id.NewJobID()
	tests := []struct {
		in      string
		want    id.JobID
		wantErr bool
	}{
		{"", id.Nil, false},
		{Wildcard, id.Nil, false},
		{jobID.String(), jobID, false},
		{"sub_01h455vb4pex5vsknk084sn02q", id.Nil, true},
		{"nonsense", id.Nil, true},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTarget(%q) err = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTarget(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPushFrame(t *testing.T) {
	t.Parallel()

	jobID := id.NewJobID()
	tests := []struct {
		msg    *stream.Message
		method string
		seq    uint64
	}{
		{&stream.Message{Kind: stream.KindEvent, Event: &event.Event{Seq: 7, JobID: jobID, To: job.StateRunning}}, MethodEvent, 7},
		{&stream.Message{Kind: stream.KindOutput, Output: &stream.OutputChunk{JobID: jobID, Stream: stream.Stdout, Data: []byte("hi")}}, MethodOutput, 0},
		{&stream.Message{Kind: stream.KindGap, Gap: &stream.Gap{After: 1, Oldest: 5, Latest: 9}}, MethodGap, 0},
	}
	for _, tt := range tests {
		frame, err := PushFrame("sub_x", tt.msg)
		if err != nil {
			t.Fatalf("%s: %v", tt.msg.Kind, err)
		}
		if frame.Method != tt.method || frame.Seq != tt.seq || frame.CorrelID != "sub_x" {
			t.Errorf("%s: frame = %+v", tt.msg.Kind, frame)
		}
	}

	if _, err := PushFrame("sub_x", &stream.Message{Kind: "bogus"}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestTokenAuthenticator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	auth := NewTokenAuthenticator("s3cret")
	if !auth.Enabled() {
		t.Fatal("expected enabled")
	}
	if err := auth.Authenticate(ctx, "s3cret"); err != nil {
		t.Errorf("valid token: %v", err)
	}
	for _, bad := range []string{"", "s3cre", "s3cret!", "S3CRET"} {
		if err := auth.Authenticate(ctx, bad); !errors.Is(err, jobhub.ErrUnauthorized) {
			t.Errorf("token %q: err = %v", bad, err)
		}
	}

	open := NewTokenAuthenticator("")
	if open.Enabled() {
		t.Error("empty token should disable auth")
	}
	if err := open.Authenticate(ctx, "anything"); err != nil {
		t.Errorf("disabled auth: %v", err)
	}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{jobhub.Invalid("command", "required"), http.StatusBadRequest},
		{fmt.Errorf("%w: job x", jobhub.ErrNotFound), http.StatusNotFound},
		{jobhub.ErrConflict, http.StatusConflict},
		{jobhub.ErrNotReady, http.StatusTooEarly},
		{jobhub.ErrRateLimited, http.StatusTooManyRequests},
		{ErrUnauthorized, http.StatusUnauthorized},
		{jobhub.ErrShutdown, http.StatusServiceUnavailable},
		{jobhub.ErrNotRunning, http.StatusServiceUnavailable},
		{fmt.Errorf("store: %w", context.Canceled), statusClientClosedRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
