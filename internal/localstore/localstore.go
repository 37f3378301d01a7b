// Package localstore is the device's durable key/value store.
// It holds exactly three keys; nothing else about the sync core is persisted.
package localstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/yatrasync/internal/database"
)

// Persisted keys
const (
	KeyPendingScans = "pendingScans"
	KeyDeviceID     = "deviceId"
	KeyLastSyncMark = "lastSyncMark"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("key not found")

// KV abstracts the durable store so queue and identity can be tested against fakes
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// entry is a single row of the kv table
type entry struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     []byte
	UpdatedAt time.Time
}

func (entry) TableName() string {
	return "kv_entries"
}

// Store is a SQLite-backed KV. Every Put is committed before it returns.
type Store struct {
	db *database.DB
}

// Open opens the device store at path, creating it if needed
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	db, err := database.OpenSQLite(path, log)
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New wraps an already opened database
func New(db *database.DB) (*Store, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key string) ([]byte, error) {
	var e entry
	err := s.db.Where("key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return e.Value, nil
}

func (s *Store) Put(key string, value []byte) error {
	e := entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys currently stored
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.Model(&entry{}).Order("key").Pluck("key", &keys).Error
	return keys, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
