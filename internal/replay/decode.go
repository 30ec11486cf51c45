package replay

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DecodePolicy selects how fetched bytes become replay text.
type DecodePolicy int

const (
	// DecodeInflate inflates gzip or zlib payloads and falls back to plain
	// text when the bytes are not compressed.
	DecodeInflate DecodePolicy = iota
	// DecodePlainText always reads the payload as UTF-8 text.
	DecodePlainText
)

// ParseDecodePolicy maps a configuration value to a policy.
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inflate":
		return DecodeInflate, nil
	case "plain", "text":
		return DecodePlainText, nil
	}
	return DecodeInflate, fmt.Errorf("unknown replay decode policy %q", s)
}

func (p DecodePolicy) String() string {
	if p == DecodePlainText {
		return "plain"
	}
	return "inflate"
}

// Decode converts raw payload bytes to text according to the policy. It never fails.
func (p DecodePolicy) Decode(data []byte) string {
	if p == DecodeInflate {
		if text, err := Inflate(data); err == nil {
			return text
		}
	}
	return decodeText(data)
}

var gzipMagic = []byte{0x1f, 0x8b}

// Inflate decompresses gzip or zlib data, detected from the header.
func Inflate(data []byte) (string, error) {
	var (
		r   io.ReadCloser
		err error
	)
	if bytes.HasPrefix(data, gzipMagic) {
		r, err = gzip.NewReader(bytes.NewReader(data))
	} else {
		r, err = zlib.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		return "", fmt.Errorf("inflate: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("inflate: %w", err)
	}
	return decodeText(out), nil
}

func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
