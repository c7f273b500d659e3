package wire

import (
	"encoding/json"

	"github.com/gobwas/ws"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec defines the serialization contract for frames.
type Codec interface {
	// Encode serializes a frame to bytes.
	Encode(frame *Frame) ([]byte, error)

	// Decode deserializes bytes into a frame.
	Decode(data []byte) (*Frame, error)

	// Name returns the codec identifier.
	Name() string

	// OpCode is the WebSocket frame kind the codec's bytes travel in.
	OpCode() ws.OpCode
}

// Codec names for negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. The empty name selects JSON; unknown
// names report false.
func GetCodec(name string) (Codec, bool) {
	switch name {
	case CodecNameJSON, "":
		return JSONCodec{}, true
	case CodecNameMsgpack:
		return MsgpackCodec{}, true
	default:
		return nil, false
	}
}

// JSONCodec encodes frames as JSON text messages.
type JSONCodec struct{}

func (JSONCodec) Encode(frame *Frame) ([]byte, error) { return json.Marshal(frame) }

func (JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (JSONCodec) Name() string      { return CodecNameJSON }
func (JSONCodec) OpCode() ws.OpCode { return ws.OpText }

// MsgpackCodec encodes frames as MessagePack binary messages.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(frame *Frame) ([]byte, error) { return msgpack.Marshal(frame) }

func (MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (MsgpackCodec) Name() string      { return CodecNameMsgpack }
func (MsgpackCodec) OpCode() ws.OpCode { return ws.OpBinary }
