// Package archive persists verified signed messages received by the collector.
package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/message"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DefaultLimit is the page size when a caller passes no limit.
const DefaultLimit = 50

// MaxLimit caps the page size of a listing.
const MaxLimit = 500

// Record is one archived message.
type Record struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Hash         string    `gorm:"uniqueIndex;size:64" json:"hash"`
	Sender       string    `gorm:"index;size:42" json:"from"`
	Recipient    string    `gorm:"size:42" json:"to"`
	Timestamp    uint64    `gorm:"index" json:"timestamp"`
	Payload      []byte    `json:"payload"`
	Signature    []byte    `json:"signature"`
	LastEdgeAddr string    `gorm:"size:42" json:"last_edge_addr,omitempty"`
	Encoded      []byte    `json:"-"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Store archives messages in a SQL database.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (creating if needed) a SQLite archive at dsn.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", dsn, err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}

	log.Info("Archive ready", slog.String("dsn", dsn))
	return &Store{db: db, log: log}, nil
}

func addressText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}

// Save archives a verified message. It reports false without error when a
// message with the same hash is already archived.
func (s *Store) Save(ctx context.Context, msg *message.SignedMessage, raw *message.RawMessage) (bool, error) {
	rec := Record{
		Hash:         hex.EncodeToString(msg.Hash),
		Sender:       addressText(raw.FromAddress),
		Recipient:    addressText(raw.ToAddress),
		Timestamp:    raw.Timestamp,
		Payload:      raw.Payload,
		Signature:    msg.Signature,
		LastEdgeAddr: addressText(msg.LastEdgeAddr),
		Encoded:      msg.Marshal(),
		ReceivedAt:   time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}).
		Create(&rec)
	if result.Error != nil {
		return false, fmt.Errorf("failed to archive message: %w", result.Error)
	}

	created := result.RowsAffected > 0
	s.log.Debug("Archived message",
		slog.String("hash", rec.Hash),
		slog.String("from", rec.Sender),
		slog.Bool("duplicate", !created))
	return created, nil
}

// RecentBySender returns up to limit messages from sender, newest first.
func (s *Store) RecentBySender(ctx context.Context, sender interfaces.Address, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Where("sender = ?", sender.String()).
		Order("timestamp desc, id desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return records, nil
}

// ErrNotFound is returned when no archived message matches.
var ErrNotFound = errors.New("message not found")

// ByHash returns the archived message with the given hex hash.
func (s *Store) ByHash(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return &rec, nil
}

// Count returns the number of archived messages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Record{}).Count(&n).Error
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
