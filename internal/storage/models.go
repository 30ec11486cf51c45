package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tourney/internal/rating"
)

// Initial rating values for a new bot.
const (
	DefaultMu    = rating.Mu
	DefaultSigma = rating.Sigma
)

// Bot is a tournament entrant.
type Bot struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"uniqueIndex"`
	Mu          float64
	Sigma       float64
	Enabled     bool `gorm:"index;default:true"`
	DockerImage string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BeforeCreate assigns a new ID when none is set.
func (b *Bot) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Rating returns the bot's current skill estimate.
func (b Bot) Rating() rating.Rating {
	return rating.Rating{Mu: b.Mu, Sigma: b.Sigma}
}

// Score is the conservative skill estimate used for ranking.
func (b Bot) Score() float64 {
	return b.Rating().Score()
}

// Match is one played game and its stored replay.
type Match struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID  int64
	Date   *time.Time `gorm:"index"`
	Seed   int64
	Width  int
	Height int
	// Replay holds the gzip-compressed replay file.
	Replay     []byte
	ReplayName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Results    []MatchResult
}

// MatchResult is one bot's outcome in a match. Mu and Sigma are the bot's
// rating after the match.
type MatchResult struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	BotID          uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_bot_match"`
	Bot            Bot       `gorm:"constraint:OnDelete:CASCADE;"`
	MatchID        uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_bot_match"`
	Match          *Match
	DockerImage    string
	Rank           int
	Mu             float64
	Sigma          float64
	LastFrameAlive int
	// ErrorLog holds the gzip-compressed error log, if the bot produced one.
	ErrorLog     []byte
	ErrorLogName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BeforeCreate assigns a new ID when none is set.
func (r *MatchResult) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
