package xjson

import (
	"io"

	gjson "github.com/goccy/go-json"
)

// Thin indirection over goccy/go-json so the JSON implementation can be
// swapped at a single import site.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) *gjson.Decoder {
	return gjson.NewDecoder(r)
}
