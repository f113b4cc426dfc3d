package processor

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ParseTextMessage decodes a non-binary feed frame. The feed delivers text
// frames as base64-encoded, zlib-compressed JSON that occasionally uses
// single quotes; quotes are normalized before parsing. Any failure means
// the frame is dropped by the caller, the connection stays open.
func ParseTextMessage(payload []byte) (interface{}, error) {
	compressed, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	defer zr.Close()

	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	normalized := strings.ReplaceAll(string(inflated), "'", `"`)

	var value interface{}
	if err := json.Unmarshal([]byte(normalized), &value); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return value, nil
}
