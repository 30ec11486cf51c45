package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"time"

	"github.com/dustin/go-humanize"

	"tourney/internal/localtime"
	"tourney/internal/replay"
)

//go:embed html/*.html
var files embed.FS

var commit = "dev"

// SetCommit records the build commit shown in the page footer.
func SetCommit(c string) {
	commit = c
}

// Funcs are the helpers available to every page template.
var Funcs = template.FuncMap{
	"localizedDateTime": LocalizedDateTime,
	"replay":            func(url string, height int) template.HTML { return ReplayDiv(url, height, false) },
	"minimalReplay":     func(url string, height int) template.HTML { return ReplayDiv(url, height, true) },
	"ago":               humanize.Time,
	"comma":             humanize.Comma,
	"score":             func(mu, sigma float64) string { return fmt.Sprintf("%.2f", mu-3*sigma) },
	"commit":            func() string { return commit },
	"inc":               func(i int) int { return i + 1 },
}

var pages = template.Must(template.New("pages").Funcs(Funcs).ParseFS(files, "html/*.html"))

// LocalizedDateTime renders a timestamp span with a server-side fallback
// text that the page scan later replaces with a localized form.
func LocalizedDateTime(t time.Time) template.HTML {
	return template.HTML(fmt.Sprintf(`<span %s="%s">%s</span>`,
		localtime.Attr,
		template.HTMLEscapeString(t.Format(time.RFC3339Nano)),
		template.HTMLEscapeString(t.Format("01/02/2006 03:04:05 PM MST"))))
}

// ReplayDiv renders a replay annotation for url.
func ReplayDiv(url string, height int, minimal bool) template.HTML {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<div class="thumbnail center-block replay" %s="%s"`, replay.AttrURL, template.HTMLEscapeString(url))
	if minimal {
		fmt.Fprintf(&b, ` %s="true"`, replay.AttrMinimal)
	}
	fmt.Fprintf(&b, ` %s="%d"></div>`, replay.AttrMaxHeight, height)
	return template.HTML(b.String())
}

// Render executes the named page ("index", "matches", "match", "leaderboard",
// "bot", "error") into a buffer.
func Render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, path.Base(name)+".html", data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// WriteHTML writes a complete HTML response.
func WriteHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
