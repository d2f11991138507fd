package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cardclash/internal/game"
)

// sessionRecord is the row shape; the aggregate itself rides along as a JSONB
// blob so the state machine owns its own schema.
type sessionRecord struct {
	ID        string `gorm:"primaryKey"`
	Code      string `gorm:"uniqueIndex"`
	Private   bool
	Status    string `gorm:"index"`
	State     []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

type playerStatsRecord struct {
	PlayerID  string `gorm:"primaryKey"`
	Wins      int
	Losses    int
	Played    int
	UpdatedAt time.Time
}

func (playerStatsRecord) TableName() string { return "player_stats" }

// Postgres persists sessions and stats through GORM.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the two tables.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}, &playerStatsRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Create(ctx context.Context, s *game.Session) error {
	return p.Save(ctx, s)
}

func (p *Postgres) Save(ctx context.Context, s *game.Session) error {
	if err := Validate(s); err != nil {
		return err
	}
	state, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	rec := sessionRecord{
		ID:        s.ID,
		Code:      s.Code,
		Private:   s.Private,
		Status:    string(s.Status),
		State:     state,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "state", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*game.Session, error) {
	var rec sessionRecord
	err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(rec)
}

func (p *Postgres) GetByCode(ctx context.Context, code string) (*game.Session, error) {
	var rec sessionRecord
	err := p.db.WithContext(ctx).First(&rec, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(rec)
}

func (p *Postgres) ListJoinable(ctx context.Context) ([]*game.Session, error) {
	var recs []sessionRecord
	err := p.db.WithContext(ctx).
		Where("status = ? AND private = false", string(game.StatusWaiting)).
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*game.Session, 0, len(recs))
	for _, rec := range recs {
		s, err := decodeSession(rec)
		if err != nil {
			// A row the engine cannot read is skipped, not repaired in place;
			// the next Save through the validating path rewrites it.
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) RecordResult(ctx context.Context, playerID string, result GameResult) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec playerStatsRecord
		if err := tx.Where(playerStatsRecord{PlayerID: playerID}).FirstOrCreate(&rec).Error; err != nil {
			return err
		}
		rec.Played++
		switch result {
		case ResultWin:
			rec.Wins++
		case ResultLoss:
			rec.Losses++
		}
		return tx.Save(&rec).Error
	})
}

func (p *Postgres) PlayerStats(ctx context.Context, playerID string) (PlayerStats, error) {
	var rec playerStatsRecord
	err := p.db.WithContext(ctx).First(&rec, "player_id = ?", playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlayerStats{PlayerID: playerID}, nil
	}
	if err != nil {
		return PlayerStats{}, err
	}
	return PlayerStats{PlayerID: rec.PlayerID, Wins: rec.Wins, Losses: rec.Losses, Played: rec.Played}, nil
}

// decodeSession rehydrates the aggregate; CardList decoding repairs any
// malformed historical deck value on the way in.
func decodeSession(rec sessionRecord) (*game.Session, error) {
	var s game.Session
	if err := json.Unmarshal(rec.State, &s); err != nil {
		return nil, fmt.Errorf("store: session %s state unreadable: %w", rec.ID, err)
	}
	if s.ID == "" {
		s.ID = rec.ID
	}
	return &s, nil
}
