package main

import (
	"runtime/debug"
	"time"
)

// Set with -ldflags "-X main.commit=... -X main.buildDate=..." in release builds.
var (
	commit    = "dev"
	buildDate = ""
)

func init() {
	commit, buildDate = versionFrom(debug.ReadBuildInfo())
}

// versionFrom fills in whatever the linker flags left unset from the VCS
// stamp Go embeds in module builds. A modified tree gets a "+dirty" suffix.
func versionFrom(info *debug.BuildInfo, ok bool) (string, string) {
	c, d := commit, buildDate
	if !ok {
		return c, d
	}
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if c == "dev" && s.Value != "" {
				c = s.Value
				if len(c) > 7 {
					c = c[:7]
				}
			}
		case "vcs.time":
			if d == "" {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					d = t.UTC().Format("2006-01-02")
				}
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && c != "dev" {
		c += "+dirty"
	}
	if d == "" {
		d = "unknown"
	}
	return c, d
}
