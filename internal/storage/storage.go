// Package storage persists the printer preference and a short print history in a local
// SQLite database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// preferenceID is the primary key of the single preference row.
const preferenceID = 1

// PrinterPreference is the persisted printer selection.
type PrinterPreference struct {
	ID                  uint      `gorm:"primaryKey" json:"-"`
	SelectedPrinterName *string   `json:"selectedPrinterName"`
	PaperWidthMm        float64   `json:"paperWidthMm"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// PrintRecord is one finished print job.
type PrintRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	JobID       string    `gorm:"index" json:"jobId"`
	Kind        string    `json:"kind"` // "ticket", "test"
	PrinterName string    `json:"printerName"`
	OK          bool      `json:"ok"`
	ExitCode    int       `json:"exitCode"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store wraps the database handle.
type Store struct {
	db     *gorm.DB
	dbPath string
}

// Open opens (creating if needed) the database at dbPath and migrates it.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.db.AutoMigrate(&PrinterPreference{}, &PrintRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settings database: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Preference returns the stored preference, or a zero value when nothing was saved yet.
func (s *Store) Preference(ctx context.Context) (PrinterPreference, error) {
	var pref PrinterPreference
	err := s.db.WithContext(ctx).First(&pref, preferenceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PrinterPreference{}, nil
	}
	if err != nil {
		return PrinterPreference{}, fmt.Errorf("error reading printer preference: %w", err)
	}
	return pref, nil
}

// SaveSelectedPrinter stores the selected printer name. An empty name clears the selection.
func (s *Store) SaveSelectedPrinter(ctx context.Context, name string) error {
	var value *string
	if name != "" {
		value = &name
	}
	return s.upsert(ctx, PrinterPreference{ID: preferenceID, SelectedPrinterName: value},
		"selected_printer_name")
}

// SavePaperWidth stores the paper width in millimeters.
func (s *Store) SavePaperWidth(ctx context.Context, mm float64) error {
	if mm <= 0 {
		return fmt.Errorf("invalid paper width %.1fmm", mm)
	}
	return s.upsert(ctx, PrinterPreference{ID: preferenceID, PaperWidthMm: mm}, "paper_width_mm")
}

// upsert creates the preference row or updates column only.
func (s *Store) upsert(ctx context.Context, pref PrinterPreference, column string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(&pref).Error
	if err != nil {
		return fmt.Errorf("error saving printer preference: %w", err)
	}
	return nil
}

// RecordPrint appends a print job outcome.
func (s *Store) RecordPrint(ctx context.Context, rec PrintRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("error recording print: %w", err)
	}
	return nil
}

// RecentPrints returns up to limit records, newest first.
func (s *Store) RecentPrints(ctx context.Context, limit int) ([]PrintRecord, error) {
	var records []PrintRecord
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("error reading print history: %w", err)
	}
	return records, nil
}
