// Package localtime rewrites machine timestamps in a page as short,
// locale-aware date and time strings.
package localtime

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"tourney/internal/logging"
)

// Attr marks an element whose text is an ISO-8601 timestamp.
const Attr = "data-date-time"

// LangParam is the query parameter that overrides Accept-Language.
const LangParam = "lang"

// TextTarget is an element whose text can be rewritten.
type TextTarget interface {
	Attr(name string) (string, bool)
	SetText(s string)
}

type layout struct {
	date string
	time string
}

var (
	monthFirst = layout{date: "01/02/2006", time: "03:04:05 PM MST"}
	dayFirst   = layout{date: "02/01/2006", time: "15:04:05 MST"}
	dotted     = layout{date: "02.01.2006", time: "15:04:05 MST"}
	yearFirst  = layout{date: "2006/01/02", time: "15:04:05 MST"}
)

// Supported lists the tags ResolveTag matches against; the first is the default.
var Supported = []language.Tag{
	language.AmericanEnglish,
	language.BritishEnglish,
	language.French,
	language.Spanish,
	language.Portuguese,
	language.Italian,
	language.German,
	language.Russian,
	language.Polish,
	language.Japanese,
	language.Chinese,
	language.Korean,
}

var matcher = language.NewMatcher(Supported)

var (
	monthFirstRegions = map[string]bool{"US": true, "PH": true, "CA": true, "FM": true, "PW": true, "MH": true}
	dottedBases       = map[string]bool{"de": true, "ru": true, "pl": true, "cs": true, "fi": true, "nb": true, "tr": true, "uk": true}
	yearFirstBases    = map[string]bool{"ja": true, "zh": true, "ko": true, "hu": true, "lt": true}
)

func layoutFor(tag language.Tag) layout {
	base, _ := tag.Base()
	region, _ := tag.Region()
	switch {
	case base.String() == "en" && monthFirstRegions[region.String()]:
		return monthFirst
	case dottedBases[base.String()]:
		return dotted
	case yearFirstBases[base.String()]:
		return yearFirst
	}
	return dayFirst
}

// Localizer formats timestamps for one locale and time zone.
type Localizer struct {
	Location *time.Location
	Tag      language.Tag
}

// New returns a Localizer; a nil location means UTC.
func New(loc *time.Location, tag language.Tag) *Localizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Localizer{Location: loc, Tag: tag}
}

// WithTag returns a copy of l using tag.
func (l *Localizer) WithTag(tag language.Tag) *Localizer {
	return &Localizer{Location: l.Location, Tag: tag}
}

// Parse reads an ISO-8601 timestamp. Values without an offset are taken to be
// in the localizer's zone.
func (l *Localizer) Parse(iso string) (time.Time, error) {
	iso = strings.TrimSpace(iso)
	if t, err := time.Parse(time.RFC3339Nano, iso); err == nil {
		return t, nil
	}
	for _, f := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(f, iso, l.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", iso)
}

// Format renders iso as "<date> <time zone>".
func (l *Localizer) Format(iso string) (string, error) {
	t, err := l.Parse(iso)
	if err != nil {
		return "", err
	}
	return l.FormatTime(t), nil
}

// FormatTime renders t in the localizer's zone and layout.
func (l *Localizer) FormatTime(t time.Time) string {
	lay := layoutFor(l.Tag)
	t = t.In(l.Location)
	return t.Format(lay.date) + " " + t.Format(lay.time)
}

// Apply rewrites every target carrying a parseable timestamp and returns how
// many were changed. Targets with malformed timestamps keep their text.
func (l *Localizer) Apply(targets []TextTarget) int {
	n := 0
	for _, t := range targets {
		raw, ok := t.Attr(Attr)
		if !ok {
			continue
		}
		s, err := l.Format(raw)
		if err != nil {
			logging.Debugf("localtime: skipping element: %v", err)
			continue
		}
		t.SetText(s)
		n++
	}
	return n
}

// ResolveTag picks the display locale for a request: the lang query
// parameter first, then Accept-Language, then fallback.
func ResolveTag(r *http.Request, fallback language.Tag) language.Tag {
	if r == nil {
		return fallback
	}
	if v := strings.TrimSpace(r.URL.Query().Get(LangParam)); v != "" {
		if tag, err := language.Parse(v); err == nil {
			return match(tag)
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			return match(tags...)
		}
	}
	return fallback
}

func match(tags ...language.Tag) language.Tag {
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}
