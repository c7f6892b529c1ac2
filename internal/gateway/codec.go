package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
)

// codecName is announced as the gRPC content-subtype (application/grpc+json).
const codecName = "json"

// jsonCodec carries the engine messages as JSON over gRPC framing.
//
// JSON has no NaN or Infinity. Engines that serialize floats with Python's
// json module still emit them as bare tokens, so a payload rejected for
// syntax is retried once with those tokens quoted; engineVector then
// decodes them.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	var syntaxErr *json.SyntaxError
	if err == nil || !errors.As(err, &syntaxErr) {
		return err
	}
	quoted, changed := quoteNonFinite(data)
	if !changed {
		return err
	}
	return json.Unmarshal(quoted, v)
}

func (jsonCodec) Name() string {
	return codecName
}

var nonFiniteTokens = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

// quoteNonFinite wraps bare NaN, Infinity and -Infinity tokens in quotes.
// Text inside JSON strings is left alone.
func quoteNonFinite(data []byte) ([]byte, bool) {
	var (
		out      bytes.Buffer
		inString bool
		escaped  bool
		changed  bool
	)
	out.Grow(len(data) + 16)

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}

		matched := false
		for _, tok := range nonFiniteTokens {
			if bytes.HasPrefix(data[i:], tok) {
				out.WriteByte('"')
				out.Write(tok)
				out.WriteByte('"')
				i += len(tok) - 1
				matched, changed = true, true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes(), changed
}
