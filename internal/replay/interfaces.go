package replay

import (
	"context"

	"tourney/internal/game"
)

// Target is an annotated element a replay is loaded into.
type Target interface {
	Attr(name string) (string, bool)
	SetInnerHTML(markup string) error
}

// Fetcher retrieves raw replay bytes. A non-success response is reported as a
// *DownloadError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser turns decoded replay text into a game model.
type Parser interface {
	Parse(text string) (*game.Game, error)
}

// Renderer draws a game model into a target.
type Renderer interface {
	Render(g *game.Game, t Target, opts RenderOptions) error
}

// RenderOptions is handed to the Renderer unchanged. Fields other than
// ShowMovement and Minimal are hints the renderer may ignore.
type RenderOptions struct {
	ShowMovement bool
	Minimal      bool
	MaxHeight    int
	HasMaxHeight bool
	ReplayURL    string
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) (*game.Game, error)

func (f ParserFunc) Parse(text string) (*game.Game, error) { return f(text) }

// RendererFunc adapts a function to Renderer.
type RendererFunc func(g *game.Game, t Target, opts RenderOptions) error

func (f RendererFunc) Render(g *game.Game, t Target, opts RenderOptions) error {
	return f(g, t, opts)
}
