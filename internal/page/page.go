// Package page runs the page-load scan over an HTML document: timestamps are
// localized and every replay annotation is loaded and rendered.
package page

import (
	"context"
	"io"

	"tourney/internal/dom"
	"tourney/internal/localtime"
	"tourney/internal/replay"
)

// Processor applies the page scripts to a document. Either field may be nil
// to skip that step.
type Processor struct {
	Loader    *replay.Loader
	Localizer *localtime.Localizer
}

// Apply scans doc once. Replay failures are reported per element in the
// document itself; the returned error joins them for logging.
func (p *Processor) Apply(ctx context.Context, doc *dom.Document) error {
	if p.Localizer != nil {
		spans := doc.Select("span", localtime.Attr)
		targets := make([]localtime.TextTarget, len(spans))
		for i, s := range spans {
			targets[i] = s
		}
		p.Localizer.Apply(targets)
	}
	if p.Loader == nil {
		return nil
	}
	divs := doc.Select("div", replay.AttrURL)
	targets := make([]replay.Target, len(divs))
	for i, d := range divs {
		targets[i] = d
	}
	return p.Loader.LoadAll(ctx, targets)
}

// Process parses r, applies the scan and writes the resulting document to w.
// Only document parse and write errors are returned; per-element replay
// failures are rendered into the output.
func (p *Processor) Process(ctx context.Context, r io.Reader, w io.Writer) error {
	doc, err := dom.Parse(r)
	if err != nil {
		return err
	}
	_ = p.Apply(ctx, doc)
	return doc.Render(w)
}
