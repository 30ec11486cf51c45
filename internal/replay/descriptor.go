package replay

import (
	"strconv"
	"strings"
)

// Annotation attributes recognised on replay targets.
const (
	AttrURL       = "data-replay-url"
	AttrMinimal   = "data-replay-is-minimal"
	AttrMaxHeight = "data-replay-max-height"
)

// Descriptor is the replay source read from a target's annotations.
type Descriptor struct {
	URL          string
	Minimal      bool
	MaxHeight    int
	HasMaxHeight bool
}

// ReadDescriptor reads the replay annotations of t once.
func ReadDescriptor(t Target) Descriptor {
	var d Descriptor
	if v, ok := t.Attr(AttrURL); ok {
		d.URL = strings.TrimSpace(v)
	}
	if v, ok := t.Attr(AttrMinimal); ok {
		d.Minimal = truthy(v)
	}
	if v, ok := t.Attr(AttrMaxHeight); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			d.MaxHeight = int(f)
			d.HasMaxHeight = true
		}
	}
	return d
}

// truthy treats a flag attribute as set unless it is empty or spells a false value.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "null":
		return false
	}
	return true
}
