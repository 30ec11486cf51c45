package game

// Direction is the move a site made between two frames.
type Direction int

const (
	Still Direction = iota
	North
	East
	South
	West
)

// Site is one cell of a frame.
type Site struct {
	Owner    int
	Strength int
}

// Player is a participant in a replay. Index 0 of Game.Players is the
// neutral owner of unclaimed sites.
type Player struct {
	Name  string
	Color string
	// Per-frame statistics, indexed by frame number.
	Territory  []int
	Production []int
	Strength   []int
}

// Game is a fully parsed Halite replay.
type Game struct {
	Version     int
	Width       int
	Height      int
	NumPlayers  int
	NumFrames   int
	Players     []Player
	Productions [][]int
	// Frames[f][y][x]
	Frames [][][]Site
	// Moves[f][y][x] is the move made from frame f to frame f+1.
	Moves [][][]Direction
}

// Standing is a player's final position in a replay.
type Standing struct {
	Player         int
	Name           string
	Color          string
	Territory      int
	Production     int
	Strength       int
	LastFrameAlive int
}
