package audio

import (
	"encoding/base64"
	"math"
	"strings"
)

// maxWrapperDepth bounds recursion through nested wrapper objects.
const maxWrapperDepth = 8

// Payload is the closed set of inbound audio payload shapes. Every variant
// has exactly one conversion rule in Normalize.
type Payload interface {
	isPayload()
}

// Bytes is a raw byte buffer.
type Bytes []byte

// IntSequence is a homogeneous list of byte values. Values outside 0..255
// are truncated to their low 8 bits.
type IntSequence []int64

// Base64Text is a base64-encoded string.
type Base64Text string

// SingleKeyWrapper is an object with exactly one key; its value is used.
type SingleKeyWrapper struct {
	Key   string
	Value Payload
}

// AudioKeyWrapper is an object carrying an "audio" key, whatever its other keys.
type AudioKeyWrapper struct {
	Value Payload
}

// Unrecognized is anything else. It normalizes to an empty clip.
type Unrecognized struct{}

func (Bytes) isPayload()            {}
func (IntSequence) isPayload()      {}
func (Base64Text) isPayload()       {}
func (SingleKeyWrapper) isPayload() {}
func (AudioKeyWrapper) isPayload()  {}
func (Unrecognized) isPayload()     {}

// Classify maps a dynamically typed value (as produced by encoding/json or a
// binary websocket frame) onto a Payload variant.
func Classify(v any) Payload {
	return classify(v, 0)
}

func classify(v any, depth int) Payload {
	if depth > maxWrapperDepth {
		return Unrecognized{}
	}
	switch t := v.(type) {
	case nil:
		return Unrecognized{}
	case Payload:
		return t
	case []byte:
		return Bytes(t)
	case string:
		return Base64Text(t)
	case []int:
		seq := make(IntSequence, len(t))
		for i, n := range t {
			seq[i] = int64(n)
		}
		return seq
	case []int64:
		return IntSequence(t)
	case []any:
		return classifyList(t)
	case map[string]any:
		if inner, ok := t["audio"]; ok {
			return AudioKeyWrapper{Value: classify(inner, depth+1)}
		}
		if len(t) == 1 {
			for k, inner := range t {
				return SingleKeyWrapper{Key: k, Value: classify(inner, depth+1)}
			}
		}
		return Unrecognized{}
	default:
		return Unrecognized{}
	}
}

// classifyList accepts a list only when every element is an integral number.
// JSON numbers decode as float64, so whole floats are accepted too.
func classifyList(items []any) Payload {
	seq := make(IntSequence, 0, len(items))
	for _, it := range items {
		switch n := it.(type) {
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return Unrecognized{}
			}
			seq = append(seq, int64(n))
		case int:
			seq = append(seq, int64(n))
		case int64:
			seq = append(seq, n)
		default:
			return Unrecognized{}
		}
	}
	return seq
}

// Normalize converts a payload into a clip. An empty result means "no audio"
// and is never an error.
func Normalize(p Payload) []byte {
	switch t := p.(type) {
	case Bytes:
		if len(t) == 0 {
			return []byte{}
		}
		return []byte(t)
	case IntSequence:
		out := make([]byte, len(t))
		for i, n := range t {
			out[i] = byte(n)
		}
		return out
	case Base64Text:
		return decodeBase64(string(t))
	case SingleKeyWrapper:
		return Normalize(t.Value)
	case AudioKeyWrapper:
		return Normalize(t.Value)
	default:
		return []byte{}
	}
}

// NormalizeAny is Classify followed by Normalize.
func NormalizeAny(v any) []byte {
	return Normalize(Classify(v))
}

func decodeBase64(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return []byte{}
	}
	// data:audio/wav;base64,... prefixes are common from browser clients
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte{}
}
