package jsonx

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(v interface{}) ([]byte, error) {
	return jsonx.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return jsonx.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) *jsoniter.Decoder {
	return jsonx.NewDecoder(r)
}

func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return jsonx.NewEncoder(w)
}

// WriteMessage encodes v as a single JSON document on w.
func WriteMessage(w io.Writer, v interface{}) error {
	data, err := jsonx.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage decodes one JSON document from r, reading at most limit bytes.
func ReadMessage(r io.Reader, limit int64, v interface{}) error {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	if err := jsonx.NewDecoder(lr).Decode(v); err != nil {
		if lr.N <= 0 {
			return fmt.Errorf("message exceeds %d bytes", limit)
		}
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// RawMessage is a raw encoded JSON value.
type RawMessage = jsoniter.RawMessage
