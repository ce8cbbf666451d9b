// Package draftstore persists in-progress company drafts between editing
// sessions, replacing the browser-local storage the legacy frontend used.
// SQLite backs the single-binary setup; Postgres is available for shared
// deployments.
package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	e "github.com/dkoval/ircrm/internal/company/errors"
	"github.com/dkoval/ircrm/internal/company/form"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Draft is the stored row. Payload holds the serialized form snapshot;
// Name and CompanyID are denormalized for listing without decoding.
type Draft struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID string    `gorm:"index" json:"company_id,omitempty"`
	Name      string    `gorm:"size:255" json:"name"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config selects the database backend.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
}

type Store struct {
	db *gorm.DB
}

// NewStore opens the configured database and migrates the draft table.
func NewStore(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported draft store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to draft store: %w", err)
	}
	if err := db.AutoMigrate(&Draft{}); err != nil {
		return nil, fmt.Errorf("failed to migrate draft store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a snapshot. An empty id assigns a new one; the assigned id
// is returned either way.
func (s *Store) Save(ctx context.Context, id string, snap form.Snapshot) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode draft: %w", err)
	}
	draft := Draft{
		ID:        id,
		CompanyID: snap.Company.ID,
		Name:      snap.Company.Name,
		Payload:   payload,
	}
	result := s.db.WithContext(ctx).Save(&draft)
	if result.Error != nil {
		return "", result.Error
	}
	return id, nil
}

// Get decodes one stored snapshot.
func (s *Store) Get(ctx context.Context, id string) (form.Snapshot, error) {
	var draft Draft
	result := s.db.WithContext(ctx).First(&draft, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return form.Snapshot{}, e.ErrNotFound
		}
		return form.Snapshot{}, result.Error
	}
	var snap form.Snapshot
	if err := json.Unmarshal(draft.Payload, &snap); err != nil {
		return form.Snapshot{}, fmt.Errorf("failed to decode draft %s: %w", id, err)
	}
	return snap, nil
}

// List returns draft metadata, most recently updated first. Payloads are
// not decoded.
func (s *Store) List(ctx context.Context) ([]Draft, error) {
	var drafts []Draft
	result := s.db.WithContext(ctx).
		Select("id", "company_id", "name", "created_at", "updated_at").
		Order("updated_at DESC").
		Find(&drafts)
	return drafts, result.Error
}

// Delete removes one draft.
func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Draft{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
