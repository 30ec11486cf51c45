// Package render draws parsed Halite replays as HTML fragments.
package render

import (
	htmlpkg "html"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"tourney/internal/game"
	"tourney/internal/replay"
)

const (
	cellSize    = 10
	chartWidth  = 300
	chartHeight = 80
)

// Replay renders the final frame of a game into a replay target.
type Replay struct{}

// Render implements replay.Renderer.
func (Replay) Render(g *game.Game, t replay.Target, opts replay.RenderOptions) error {
	return t.SetInnerHTML(Fragment(g, opts))
}

// Fragment returns the markup Render writes.
func Fragment(g *game.Game, opts replay.RenderOptions) string {
	var b strings.Builder
	b.WriteString(`<div class="halite-replay`)
	if opts.Minimal {
		b.WriteString(` halite-replay-minimal`)
	}
	b.WriteString(`" data-frames="`)
	b.WriteString(strconv.Itoa(g.NumFrames))
	b.WriteString(`">`)
	if !opts.Minimal {
		header(&b, g, opts)
	}
	board(&b, g, opts)
	if !opts.Minimal {
		standings(&b, g)
		territoryChart(&b, g)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func header(b *strings.Builder, g *game.Game, opts replay.RenderOptions) {
	b.WriteString(`<div class="replay-header"><span class="replay-size">`)
	b.WriteString(strconv.Itoa(g.Width))
	b.WriteString(`x`)
	b.WriteString(strconv.Itoa(g.Height))
	b.WriteString(`</span> <span class="replay-frames">`)
	b.WriteString(humanize.Comma(int64(g.NumFrames)))
	b.WriteString(` frames</span>`)
	if opts.ReplayURL != "" {
		u := htmlpkg.EscapeString(opts.ReplayURL)
		b.WriteString(` <a class="replay-download" href="`)
		b.WriteString(u)
		b.WriteString(`" download>Download replay</a>`)
	}
	b.WriteString(`</div>`)
}

func board(b *strings.Builder, g *game.Game, opts replay.RenderOptions) {
	w, h := g.Width*cellSize, g.Height*cellSize
	b.WriteString(`<svg class="replay-board" xmlns="http://www.w3.org/2000/svg" viewBox="0 0 `)
	b.WriteString(strconv.Itoa(w))
	b.WriteString(` `)
	b.WriteString(strconv.Itoa(h))
	b.WriteString(`" preserveAspectRatio="xMidYMid meet"`)
	if opts.HasMaxHeight {
		b.WriteString(` style="max-height: `)
		b.WriteString(strconv.Itoa(opts.MaxHeight))
		b.WriteString(`px"`)
	}
	b.WriteString(`>`)

	frame := g.LastFrame()
	for y, row := range frame {
		for x, s := range row {
			b.WriteString(`<rect x="`)
			b.WriteString(strconv.Itoa(x * cellSize))
			b.WriteString(`" y="`)
			b.WriteString(strconv.Itoa(y * cellSize))
			b.WriteString(`" width="10" height="10" fill="`)
			b.WriteString(g.Players[s.Owner].Color)
			b.WriteString(`" fill-opacity="`)
			b.WriteString(opacity(s.Strength))
			b.WriteString(`"/>`)
		}
	}

	if opts.ShowMovement {
		if moves := g.LastMoves(); moves != nil {
			b.WriteString(`<g class="replay-moves" stroke="#ffffff" stroke-width="1">`)
			for y, row := range moves {
				for x, d := range row {
					arrow(b, x, y, d)
				}
			}
			b.WriteString(`</g>`)
		}
	}
	b.WriteString(`</svg>`)
}

// opacity scales strength (0..255) into a fill opacity in [0.15, 1].
func opacity(strength int) string {
	if strength < 0 {
		strength = 0
	}
	if strength > 255 {
		strength = 255
	}
	v := 0.15 + 0.85*float64(strength)/255
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func arrow(b *strings.Builder, x, y int, d game.Direction) {
	if d == game.Still {
		return
	}
	cx, cy := x*cellSize+cellSize/2, y*cellSize+cellSize/2
	tx, ty := cx, cy
	const reach = cellSize / 2
	switch d {
	case game.North:
		ty -= reach
	case game.East:
		tx += reach
	case game.South:
		ty += reach
	case game.West:
		tx -= reach
	}
	b.WriteString(`<line x1="`)
	b.WriteString(strconv.Itoa(cx))
	b.WriteString(`" y1="`)
	b.WriteString(strconv.Itoa(cy))
	b.WriteString(`" x2="`)
	b.WriteString(strconv.Itoa(tx))
	b.WriteString(`" y2="`)
	b.WriteString(strconv.Itoa(ty))
	b.WriteString(`"/>`)
}

func standings(b *strings.Builder, g *game.Game) {
	b.WriteString(`<table class="table table-condensed replay-standings"><thead><tr><th>#</th><th>Player</th><th>Territory</th><th>Production</th><th>Strength</th><th>Last frame alive</th></tr></thead><tbody>`)
	for i, s := range g.Ranking() {
		b.WriteString(`<tr><td>`)
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(`</td><td><span class="player-swatch" style="background-color: `)
		b.WriteString(s.Color)
		b.WriteString(`"></span> `)
		b.WriteString(htmlpkg.EscapeString(s.Name))
		b.WriteString(`</td><td>`)
		b.WriteString(humanize.Comma(int64(s.Territory)))
		b.WriteString(`</td><td>`)
		b.WriteString(humanize.Comma(int64(s.Production)))
		b.WriteString(`</td><td>`)
		b.WriteString(humanize.Comma(int64(s.Strength)))
		b.WriteString(`</td><td>`)
		if s.LastFrameAlive < 0 {
			b.WriteString(`-`)
		} else {
			b.WriteString(strconv.Itoa(s.LastFrameAlive))
		}
		b.WriteString(`</td></tr>`)
	}
	b.WriteString(`</tbody></table>`)
}

func territoryChart(b *strings.Builder, g *game.Game) {
	peak := 1
	for _, p := range g.Players[1:] {
		for _, v := range p.Territory {
			if v > peak {
				peak = v
			}
		}
	}
	span := g.NumFrames - 1
	if span < 1 {
		span = 1
	}
	b.WriteString(`<svg class="replay-territory" xmlns="http://www.w3.org/2000/svg" viewBox="0 0 300 80">`)
	for _, p := range g.Players[1:] {
		b.WriteString(`<polyline fill="none" stroke="`)
		b.WriteString(p.Color)
		b.WriteString(`" points="`)
		for f, v := range p.Territory {
			if f > 0 {
				b.WriteString(` `)
			}
			b.WriteString(strconv.Itoa(f * chartWidth / span))
			b.WriteString(`,`)
			b.WriteString(strconv.Itoa(chartHeight - v*chartHeight/peak))
		}
		b.WriteString(`"/>`)
	}
	b.WriteString(`</svg>`)
}
