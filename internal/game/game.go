package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// SupportedVersion is the only replay format version Parse accepts.
const SupportedVersion = 11

// MaxSites caps width*height*num_frames so a hostile replay cannot force a
// huge allocation. Real Halite replays stay far below it.
const MaxSites = 1 << 22

// ErrInvalidReplay is wrapped by every error Parse returns.
var ErrInvalidReplay = errors.New("invalid replay")

// palette holds the display colours of players 1..6; the neutral player is grey.
var palette = []string{"#04e6f2", "#424c9c", "#0050d1", "#0a2e6f", "#5a007c", "#9b006a"}

const neutralColor = "#888888"

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReplay, fmt.Sprintf(format, args...))
}

// Parse decodes replay text into a Game and computes per-frame player statistics.
func Parse(text string) (*Game, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	if !gjson.Valid(text) {
		return nil, invalid("not valid JSON")
	}
	root := gjson.Parse(text)
	if !root.IsObject() {
		return nil, invalid("expected a JSON object")
	}

	g := &Game{
		Version:    int(root.Get("version").Int()),
		Width:      int(root.Get("width").Int()),
		Height:     int(root.Get("height").Int()),
		NumPlayers: int(root.Get("num_players").Int()),
		NumFrames:  int(root.Get("num_frames").Int()),
	}
	if g.Version != SupportedVersion {
		return nil, invalid("unsupported version number %d", g.Version)
	}
	if g.Width <= 0 || g.Height <= 0 {
		return nil, invalid("bad map size %dx%d", g.Width, g.Height)
	}
	if g.NumPlayers <= 0 || g.NumPlayers > len(palette) {
		return nil, invalid("bad player count %d", g.NumPlayers)
	}
	if g.NumFrames <= 0 {
		return nil, invalid("replay has no frames")
	}
	if g.Width > MaxSites || g.Height > MaxSites/g.Width || g.NumFrames > MaxSites/(g.Width*g.Height) {
		return nil, invalid("replay too large: %dx%d with %d frames", g.Width, g.Height, g.NumFrames)
	}
	frames := root.Get("frames")
	if n := len(frames.Array()); n != g.NumFrames {
		return nil, invalid("%d frames present, num_frames is %d", n, g.NumFrames)
	}

	names := root.Get("player_names").Array()
	if len(names) != g.NumPlayers {
		return nil, invalid("%d player names for %d players", len(names), g.NumPlayers)
	}
	g.Players = make([]Player, 0, g.NumPlayers+1)
	g.Players = append(g.Players, Player{Name: "NULL", Color: neutralColor})
	for i, n := range names {
		g.Players = append(g.Players, Player{
			Name:       n.String(),
			Color:      palette[i],
			Territory:  make([]int, g.NumFrames),
			Production: make([]int, g.NumFrames),
			Strength:   make([]int, g.NumFrames),
		})
	}

	var err error
	if g.Productions, err = parseProductions(root.Get("productions"), g.Width, g.Height); err != nil {
		return nil, err
	}
	if g.Frames, err = parseFrames(frames, g); err != nil {
		return nil, err
	}
	if g.Moves, err = parseMoves(root.Get("moves"), g); err != nil {
		return nil, err
	}
	g.computeStats()
	return g, nil
}

func parseProductions(v gjson.Result, w, h int) ([][]int, error) {
	rows := v.Array()
	if len(rows) != h {
		return nil, invalid("productions has %d rows, want %d", len(rows), h)
	}
	out := make([][]int, h)
	for y, row := range rows {
		cells := row.Array()
		if len(cells) != w {
			return nil, invalid("productions row %d has %d cells, want %d", y, len(cells), w)
		}
		out[y] = make([]int, w)
		for x, c := range cells {
			out[y][x] = int(c.Int())
		}
	}
	return out, nil
}

func parseFrames(v gjson.Result, g *Game) ([][][]Site, error) {
	frames := v.Array()
	if len(frames) != g.NumFrames {
		return nil, invalid("%d frames present, num_frames is %d", len(frames), g.NumFrames)
	}
	out := make([][][]Site, len(frames))
	for f, frame := range frames {
		rows := frame.Array()
		if len(rows) != g.Height {
			return nil, invalid("frame %d has %d rows, want %d", f, len(rows), g.Height)
		}
		out[f] = make([][]Site, g.Height)
		for y, row := range rows {
			cells := row.Array()
			if len(cells) != g.Width {
				return nil, invalid("frame %d row %d has %d cells, want %d", f, y, len(cells), g.Width)
			}
			out[f][y] = make([]Site, g.Width)
			for x, c := range cells {
				pair := c.Array()
				if len(pair) != 2 {
					return nil, invalid("frame %d site (%d,%d) is not an [owner, strength] pair", f, x, y)
				}
				owner := int(pair[0].Int())
				if owner < 0 || owner > g.NumPlayers {
					return nil, invalid("frame %d site (%d,%d) has owner %d", f, x, y, owner)
				}
				out[f][y][x] = Site{Owner: owner, Strength: int(pair[1].Int())}
			}
		}
	}
	return out, nil
}

// parseMoves accepts a missing moves array; otherwise it must hold one move
// grid per transition between frames.
func parseMoves(v gjson.Result, g *Game) ([][][]Direction, error) {
	if !v.Exists() {
		return nil, nil
	}
	turns := v.Array()
	if len(turns) != g.NumFrames-1 {
		return nil, invalid("%d move sets for %d frames", len(turns), g.NumFrames)
	}
	out := make([][][]Direction, len(turns))
	for f, turn := range turns {
		rows := turn.Array()
		if len(rows) != g.Height {
			return nil, invalid("move set %d has %d rows, want %d", f, len(rows), g.Height)
		}
		out[f] = make([][]Direction, g.Height)
		for y, row := range rows {
			cells := row.Array()
			if len(cells) != g.Width {
				return nil, invalid("move set %d row %d has %d cells, want %d", f, y, len(cells), g.Width)
			}
			out[f][y] = make([]Direction, g.Width)
			for x, c := range cells {
				d := Direction(c.Int())
				if d < Still || d > West {
					return nil, invalid("move set %d site (%d,%d) has direction %d", f, x, y, d)
				}
				out[f][y][x] = d
			}
		}
	}
	return out, nil
}

func (g *Game) computeStats() {
	for f, frame := range g.Frames {
		for y, row := range frame {
			for x, s := range row {
				if s.Owner == 0 {
					continue
				}
				p := &g.Players[s.Owner]
				p.Territory[f]++
				p.Production[f] += g.Productions[y][x]
				p.Strength[f] += s.Strength
			}
		}
	}
}

// LastFrame returns the final frame of the replay.
func (g *Game) LastFrame() [][]Site {
	return g.Frames[len(g.Frames)-1]
}

// LastMoves returns the final move set, or nil when the replay has none.
func (g *Game) LastMoves() [][]Direction {
	if len(g.Moves) == 0 {
		return nil
	}
	return g.Moves[len(g.Moves)-1]
}

// Ranking orders players by how long they survived, then by final territory
// and strength.
func (g *Game) Ranking() []Standing {
	last := g.NumFrames - 1
	out := make([]Standing, 0, g.NumPlayers)
	for i := 1; i < len(g.Players); i++ {
		p := g.Players[i]
		alive := -1
		for f := last; f >= 0; f-- {
			if p.Territory[f] > 0 {
				alive = f
				break
			}
		}
		out = append(out, Standing{
			Player:         i,
			Name:           p.Name,
			Color:          p.Color,
			Territory:      p.Territory[last],
			Production:     p.Production[last],
			Strength:       p.Strength[last],
			LastFrameAlive: alive,
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].LastFrameAlive != out[b].LastFrameAlive {
			return out[a].LastFrameAlive > out[b].LastFrameAlive
		}
		if out[a].Territory != out[b].Territory {
			return out[a].Territory > out[b].Territory
		}
		return out[a].Strength > out[b].Strength
	})
	return out
}

// Winner returns the top standing.
func (g *Game) Winner() Standing {
	return g.Ranking()[0]
}
