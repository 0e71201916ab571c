package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"keyvex/internal/tcc"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TCCRecord is the persisted form of a context.
type TCCRecord struct {
	JobID     string `gorm:"primaryKey;size:128"`
	UserID    string `gorm:"index;size:128"`
	Status    string `gorm:"index;size:32"`
	Step      string `gorm:"size:64"`
	Version   int
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name regardless of naming strategy.
func (TCCRecord) TableName() string { return "tcc_records" }

// SQLMirror stores contexts in a relational database through gorm.
type SQLMirror struct {
	db *gorm.DB
}

// NewSQLMirror migrates the tcc_records table.
func NewSQLMirror(db *gorm.DB) (*SQLMirror, error) {
	if err := db.AutoMigrate(&TCCRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tcc_records: %w", err)
	}
	return &SQLMirror{db: db}, nil
}

func (m *SQLMirror) Name() string { return "sql" }

func (m *SQLMirror) Put(ctx context.Context, t *tcc.Context) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal tcc: %w", err)
	}
	rec := TCCRecord{
		JobID:     t.JobID,
		UserID:    t.UserID,
		Status:    string(t.Status),
		Step:      string(t.CurrentOrchestrationStep),
		Version:   t.TCCVersion,
		Payload:   string(payload),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "status", "step", "version", "payload", "updated_at"}),
	}).Create(&rec).Error
}

func (m *SQLMirror) Load(ctx context.Context, jobID string) (*tcc.Context, error) {
	var rec TCCRecord
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t tcc.Context
	if err := json.Unmarshal([]byte(rec.Payload), &t); err != nil {
		return nil, fmt.Errorf("corrupt tcc record %s: %w", jobID, err)
	}
	return &t, nil
}

func (m *SQLMirror) Remove(ctx context.Context, jobID string) error {
	return m.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&TCCRecord{}).Error
}

func (m *SQLMirror) JobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.db.WithContext(ctx).Model(&TCCRecord{}).Order("updated_at desc").Pluck("job_id", &ids).Error
	return ids, err
}
