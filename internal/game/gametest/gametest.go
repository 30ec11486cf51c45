// Package gametest builds small Halite replays for tests.
package gametest

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
)

// Replay describes a replay with every frame identical to Sites.
type Replay struct {
	Version int
	Names   []string
	// Sites[y][x] = [owner, strength]
	Sites      [][][2]int
	Production int
	Frames     int
	// Move applied to every site in every move set.
	Move int
}

// Default returns a 3x2 two-player replay with three frames.
func Default() Replay {
	return Replay{
		Version: 11,
		Names:   []string{"alpha", "beta"},
		Sites: [][][2]int{
			{{1, 10}, {1, 20}, {0, 5}},
			{{2, 30}, {0, 0}, {0, 7}},
		},
		Production: 2,
		Frames:     3,
		Move:       1,
	}
}

// JSON renders the replay as version-11 replay text.
func (r Replay) JSON() string {
	h := len(r.Sites)
	w := 0
	if h > 0 {
		w = len(r.Sites[0])
	}
	productions := make([][]int, h)
	moves := make([][]int, h)
	for y := range productions {
		productions[y] = make([]int, w)
		moves[y] = make([]int, w)
		for x := range productions[y] {
			productions[y][x] = r.Production
			moves[y][x] = r.Move
		}
	}
	frames := make([][][][2]int, r.Frames)
	for f := range frames {
		frames[f] = r.Sites
	}
	moveSets := make([][][]int, 0, r.Frames)
	for f := 1; f < r.Frames; f++ {
		moveSets = append(moveSets, moves)
	}
	doc := map[string]any{
		"version":      r.Version,
		"width":        w,
		"height":       h,
		"num_players":  len(r.Names),
		"num_frames":   r.Frames,
		"player_names": r.Names,
		"productions":  productions,
		"frames":       frames,
		"moves":        moveSets,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Gzip compresses s with gzip framing.
func Gzip(s string) []byte {
	var buf bytes.Buffer
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	_, _ = zw.Write([]byte(s))
	_ = zw.Close()
	return buf.Bytes()
}

// Zlib compresses s with zlib framing.
func Zlib(s string) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write([]byte(s))
	_ = zw.Close()
	return buf.Bytes()
}
