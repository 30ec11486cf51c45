package utils

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"
)

// TraceID returns a short random hex tag used to correlate log lines of one
// replay load.
func TraceID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// SafeFilename reduces a stored object name to a base name usable in a
// Content-Disposition header.
func SafeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, base)
	if base == "." || base == "/" || base == "" {
		return "replay"
	}
	return base
}
