package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cfd_engine/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists users and positions derived from engine results.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens the database for driver ("sqlite" or "postgres") and migrates the schema.
func NewStorage(driver, dsn string) (*Storage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		// Ensure directory exists
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
		}
		// Pure Go sqlite
		dialector = sqlite.Open(dsn)
	default:
		return nil, &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", driver)}
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.User{}, &domain.PositionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Result Operations
// ======================================================================================

// ApplyPlaced records a new open position and debits its margin, once.
// A redelivered ORDER_PLACED finds the row and changes nothing.
func (s *Storage) ApplyPlaced(ctx context.Context, p domain.Position, defaultBalance int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := domain.User{ID: p.UserID, Balance: defaultBalance}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
			return err
		}

		rec := recordFromPosition(p, domain.PositionStatusOpen)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&domain.User{}).Where("id = ?", p.UserID).
			UpdateColumn("balance", gorm.Expr("balance - ?", p.Margin)).Error
	})
}

// ApplyClosed sets the owner's balance to the engine's final balance and
// marks the position closed. A position never seen open is inserted closed.
func (s *Storage) ApplyClosed(ctx context.Context, c domain.ClosedPosition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := domain.User{ID: c.UserID, Balance: c.FinalBalance}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
		}).Create(&user).Error; err != nil {
			return err
		}

		res := tx.Model(&domain.PositionRecord{}).
			Where("id = ? AND status = ?", c.ID, domain.PositionStatusOpen).
			Updates(map[string]interface{}{
				"status":      domain.PositionStatusClose,
				"close_price": c.ClosePrice,
				"closed_at":   c.ClosedAt,
				"pnl":         c.PnL,
				"reason":      string(c.Reason),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		rec := recordFromPosition(c.Position, domain.PositionStatusClose)
		rec.ClosePrice = c.ClosePrice
		rec.ClosedAt = c.ClosedAt
		rec.Reason = string(c.Reason)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	})
}

func recordFromPosition(p domain.Position, status string) domain.PositionRecord {
	return domain.PositionRecord{
		ID:         p.ID,
		UserID:     p.UserID,
		Asset:      p.Asset,
		Type:       string(p.Type),
		Margin:     p.Margin,
		Leverage:   p.Leverage,
		Slippage:   p.Slippage,
		OpenPrice:  p.OpenPrice,
		PriceScale: p.PriceScale,
		Quantity:   p.Quantity,
		OpenedAt:   p.OpenedAt,
		PnL:        p.PnL,
		Status:     status,
		StreamID:   p.StreamID,
	}
}

// ======================================================================================
// Queries
// ======================================================================================

// GetUser retrieves a user by id
func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetPosition retrieves a position by id
func (s *Storage) GetPosition(ctx context.Context, id string) (*domain.PositionRecord, error) {
	var rec domain.PositionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPositions returns a user's positions in open order; empty status means all.
func (s *Storage) ListPositions(ctx context.Context, userID, status string) ([]domain.PositionRecord, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var recs []domain.PositionRecord
	err := q.Order("opened_at, id").Find(&recs).Error
	return recs, err
}
