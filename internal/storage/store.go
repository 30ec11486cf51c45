package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tourney/internal/rating"
)

// Store wraps a gorm DB instance and provides helper methods for persisting matches.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new store helper from a gorm DB.
func NewStore(db *gorm.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// DB exposes the underlying gorm DB instance.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// ErrNotFound is returned when a record is not found.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrNoStore is returned by operations that need a database when none is configured.
var ErrNoStore = errors.New("storage not configured")

// ErrUnknownBot is returned when a match result names a bot that is not registered.
var ErrUnknownBot = errors.New("unknown bot")

// ResultInput is one bot's outcome as reported by a match run.
type ResultInput struct {
	BotName        string
	DockerImage    string
	Rank           int
	LastFrameAlive int
	ErrorLog       []byte
	ErrorLogName   string
}

// EnsureBot registers the bot called name with default ratings, or returns
// the existing one. A changed non-empty docker image is stored and resets the
// bot's uncertainty, since a new image is effectively a new player.
func (s *Store) EnsureBot(ctx context.Context, name, dockerImage string) (*Bot, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	var bot Bot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", name).Limit(1).Find(&bot)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			bot = Bot{Name: name, Mu: DefaultMu, Sigma: DefaultSigma, Enabled: true, DockerImage: dockerImage}
			return tx.Create(&bot).Error
		}
		if dockerImage == "" || dockerImage == bot.DockerImage {
			return nil
		}
		return tx.Model(&bot).Updates(map[string]any{"docker_image": dockerImage, "sigma": DefaultSigma}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bot %s: %w", name, err)
	}
	return &bot, nil
}

// SaveMatch upserts a match and records each bot's result once. Every result
// must name a registered bot. The first time a result is recorded the bots'
// ratings are updated from the match ranks; re-uploading a match leaves
// results and ratings as they are.
func (s *Store) SaveMatch(ctx context.Context, m *Match, results []ResultInput) error {
	if s == nil {
		return ErrNoStore
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"run_id", "date", "seed", "width", "height", "replay", "replay_name", "updated_at"}),
		}).Omit(clause.Associations).Create(m).Error; err != nil {
			return fmt.Errorf("save match: %w", err)
		}

		bots := make([]Bot, len(results))
		before := make([]rating.Rating, len(results))
		ranks := make([]int, len(results))
		for i, r := range results {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("name = ?", r.BotName).First(&bots[i]).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrUnknownBot, r.BotName)
				}
				return err
			}
			before[i] = bots[i].Rating()
			ranks[i] = r.Rank
		}
		after := rating.Rate(before, ranks)

		for i, r := range results {
			var existing MatchResult
			res := tx.Where("bot_id = ? AND match_id = ?", bots[i].ID, m.ID).Limit(1).Find(&existing)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				continue
			}
			row := MatchResult{
				BotID:          bots[i].ID,
				MatchID:        m.ID,
				DockerImage:    r.DockerImage,
				Rank:           r.Rank,
				Mu:             after[i].Mu,
				Sigma:          after[i].Sigma,
				LastFrameAlive: r.LastFrameAlive,
				ErrorLog:       r.ErrorLog,
				ErrorLogName:   r.ErrorLogName,
			}
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return fmt.Errorf("save result for %s: %w", r.BotName, err)
			}
			if err := tx.Model(&bots[i]).Updates(map[string]any{"mu": after[i].Mu, "sigma": after[i].Sigma}).Error; err != nil {
				return fmt.Errorf("update rating for %s: %w", r.BotName, err)
			}
		}
		return nil
	})
}

// LoadMatch fetches a match with its results ordered by rank. The replay
// bytes are not loaded.
func (s *Store) LoadMatch(ctx context.Context, id uuid.UUID) (*Match, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	var m Match
	err := s.db.WithContext(ctx).
		Omit("replay").
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }).
		Preload("Results.Bot").
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMatches returns finished matches, newest first.
func (s *Store) ListRecentMatches(ctx context.Context, limit, offset int) ([]Match, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	var matches []Match
	err := s.db.WithContext(ctx).
		Omit("replay").
		Where("date IS NOT NULL AND replay_name <> ''").
		Where("EXISTS (SELECT 1 FROM match_results r WHERE r.match_id = matches.id)").
		Order("date DESC").
		Limit(limit).Offset(offset).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }).
		Preload("Results.Bot").
		Find(&matches).Error
	return matches, err
}

// Replay returns the stored gzip replay bytes and file name of a match.
func (s *Store) Replay(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	if s == nil {
		return nil, "", ErrNoStore
	}
	var m Match
	err := s.db.WithContext(ctx).Select("id", "replay", "replay_name").First(&m, "id = ?", id).Error
	if err != nil {
		return nil, "", err
	}
	if len(m.Replay) == 0 {
		return nil, "", ErrNotFound
	}
	return m.Replay, m.ReplayName, nil
}

// Leaderboard lists enabled bots by descending score.
func (s *Store) Leaderboard(ctx context.Context) ([]Bot, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	var bots []Bot
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("mu - (sigma * 3) DESC").
		Order("mu DESC").
		Order("name ASC").
		Find(&bots).Error
	return bots, err
}

// BotByName fetches a bot by its unique name.
func (s *Store) BotByName(ctx context.Context, name string) (*Bot, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	var bot Bot
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&bot).Error; err != nil {
		return nil, err
	}
	return &bot, nil
}

// BotResults returns a bot's results in matches that have a replay, newest
// match first, each with its match loaded without the replay bytes.
func (s *Store) BotResults(ctx context.Context, botID uuid.UUID, limit, offset int) ([]MatchResult, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	var results []MatchResult
	err := s.db.WithContext(ctx).
		Joins("JOIN matches ON matches.id = match_results.match_id").
		Where("match_results.bot_id = ?", botID).
		Where("matches.replay_name <> ''").
		Order("matches.date DESC").
		Limit(limit).Offset(offset).
		Preload("Match", func(db *gorm.DB) *gorm.DB { return db.Omit("replay") }).
		Find(&results).Error
	return results, err
}

// Stats represents aggregate counts for the home page.
type Stats struct {
	Bots    int64 `json:"bots"`
	Matches int64 `json:"matches"`
}

// FetchStats aggregates counts for display on the home page.
func (s *Store) FetchStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if s == nil {
		return stats, nil
	}
	if err := s.db.WithContext(ctx).Model(&Bot{}).Where("enabled = ?", true).Count(&stats.Bots).Error; err != nil {
		return stats, err
	}
	if err := s.db.WithContext(ctx).Model(&Match{}).Where("date IS NOT NULL").Count(&stats.Matches).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
