// Package replay loads replays into annotated page elements: it fetches the
// payload, decodes it, parses it into a game model and hands the model to a
// renderer, replacing the element's content with a status message when a
// stage fails.
package replay

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/remeh/sizedwaitgroup"

	"tourney/internal/logging"
	"tourney/pkg/utils"
)

// ErrParse is wrapped when replay text cannot be parsed or rendered.
var ErrParse = errors.New("replay parse failed")

// DefaultConcurrency bounds LoadAll when Loader.Concurrency is unset.
const DefaultConcurrency = 8

const (
	downloadingHTML = `<h1><span class="glyphicon glyphicon-refresh glyphicon-refresh-animate"></span> Downloading replay...</h1>`
	preparingHTML   = `<h1><span class="glyphicon glyphicon-refresh glyphicon-refresh-animate"></span> Preparing replay...</h1>`
)

// DownloadFailedHTML is the message shown when the replay could not be downloaded.
func DownloadFailedHTML(replayURL string) string {
	u := html.EscapeString(replayURL)
	return fmt.Sprintf(`<h1>Replay <a href="%s">%s</a> failed to download!</h1>`, u, u)
}

// ParseFailedHTML is the message shown when the replay could not be parsed.
func ParseFailedHTML(replayURL string, err error) string {
	u := html.EscapeString(replayURL)
	return fmt.Sprintf(`<h1>Replay <a href="%s">%s</a> failed to parse! %s</h1>`, u, u, html.EscapeString(err.Error()))
}

// Loader runs load-and-render cycles for replay targets.
type Loader struct {
	Fetcher  Fetcher
	Parser   Parser
	Renderer Renderer
	Policy   DecodePolicy
	// Concurrency bounds how many cycles LoadAll runs at once.
	Concurrency int
}

// Load performs one cycle for t. A target without a replay URL is left alone
// and nil is returned. Failures are terminal for this target only; the error
// wraps ErrDownload or ErrParse.
func (l *Loader) Load(ctx context.Context, t Target) error {
	d := ReadDescriptor(t)
	if d.URL == "" {
		return nil
	}
	id := utils.TraceID()
	start := time.Now()
	show := func(markup string) {
		if d.Minimal {
			return
		}
		if err := t.SetInnerHTML(markup); err != nil {
			logging.Debugf("replay %s: update element: %v", id, err)
		}
	}

	logging.Debugf("replay %s: loading %s (minimal=%t)", id, d.URL, d.Minimal)
	show(downloadingHTML)

	data, err := l.Fetcher.Fetch(ctx, d.URL)
	if err != nil {
		show(DownloadFailedHTML(d.URL))
		if !errors.Is(err, ErrDownload) {
			err = fmt.Errorf("%w: %w", ErrDownload, err)
		}
		return err
	}

	show(preparingHTML)
	text := l.Policy.Decode(data)
	logging.Debugf("replay %s: %s payload decoded to %s of text (%s)",
		id, humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(len(text))), l.Policy)

	if err := l.parseAndRender(t, d, text); err != nil {
		show(ParseFailedHTML(d.URL, err))
		return fmt.Errorf("%w: %s: %w", ErrParse, d.URL, err)
	}

	logging.Debugf("replay %s: rendered in %s", id, durafmt.Parse(time.Since(start)).LimitFirstN(2))
	return nil
}

// parseAndRender converts a panic in either collaborator into an error so a
// hostile replay fails only its own element.
func (l *Loader) parseAndRender(t Target, d Descriptor, text string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("internal error: %v", v)
		}
	}()
	g, err := l.Parser.Parse(text)
	if err != nil {
		return err
	}
	return l.Renderer.Render(g, t, RenderOptions{
		ShowMovement: true,
		Minimal:      d.Minimal,
		MaxHeight:    d.MaxHeight,
		HasMaxHeight: d.HasMaxHeight,
		ReplayURL:    d.URL,
	})
}

// LoadAll starts an independent cycle for every target and waits for all of
// them. The returned error joins the per-target failures.
func (l *Loader) LoadAll(ctx context.Context, targets []Target) error {
	limit := l.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	errs := make([]error, len(targets))
	swg := sizedwaitgroup.New(limit)
	for i, t := range targets {
		swg.Add()
		go func(i int, t Target) {
			defer swg.Done()
			errs[i] = l.Load(ctx, t)
		}(i, t)
	}
	swg.Wait()
	return errors.Join(errs...)
}
