package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec encodes WebSocket frames.
type Codec interface {
	// Name is the configuration name of the codec.
	Name() string
	// MessageType is the WebSocket frame type the codec writes.
	MessageType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// CodecFor returns the codec configured by name ("json" or "cbor").
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want json or cbor)", name)
	}
}

// JSONCodec writes text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string     { return "json" }
func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes numbers as json.Number so integer variables survive
// re-encoding exactly.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// CBOR modes use Core Deterministic Encoding (RFC 8949 §4.2) and decode
// untyped maps as map[string]any.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec writes binary frames.
//
// Frames carry JSON payloads (json.RawMessage, json.Marshaler), so values
// are first rendered through their JSON form and then encoded as native
// CBOR maps, arrays and integers.
type CBORCodec struct{}

func (CBORCodec) Name() string     { return "cbor" }
func (CBORCodec) MessageType() int { return websocket.BinaryMessage }

func (CBORCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	native, err := jsonToNative(data)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(native)
}

func (CBORCodec) Unmarshal(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}

// jsonToNative decodes JSON into maps, slices and scalars with integers
// kept as int64.
func jsonToNative(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return numbersToInts(v), nil
}

func numbersToInts(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = numbersToInts(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = numbersToInts(val[k])
		}
		return val
	default:
		return v
	}
}
