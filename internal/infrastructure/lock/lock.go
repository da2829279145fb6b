// Package lock persists workflow-node lock rows in SQLite via GORM and
// sweeps stale locks left by a prior process instance.
package lock

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one workflow-node lock row.
type Record struct {
	WorkflowName string `gorm:"primaryKey;size:128"`
	NodeName     string `gorm:"primaryKey;size:128"`
	InstanceID   string `gorm:"size:64;not null;index"`
	AcquiredAt   time.Time
}

// TableName pins the table name regardless of struct renames.
func (Record) TableName() string {
	return "workflow_node_locks"
}

// Store wraps a GORM connection scoped to the lock table.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates the lock table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open lock database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate lock table: %w", err)
	}
	return &Store{db: db}, nil
}

// Acquire upserts a lock row for (workflowName, nodeName) owned by
// instanceID, overwriting any existing row for the same key.
func (s *Store) Acquire(workflowName, nodeName, instanceID string) error {
	record := Record{
		WorkflowName: workflowName,
		NodeName:     nodeName,
		InstanceID:   instanceID,
		AcquiredAt:   time.Now().UTC(),
	}
	return s.db.Save(&record).Error
}

// Release deletes the lock row for (workflowName, nodeName).
func (s *Store) Release(workflowName, nodeName string) error {
	return s.db.Delete(&Record{}, "workflow_name = ? AND node_name = ?", workflowName, nodeName).Error
}

// SweepForeignInstances deletes every lock row not owned by instanceID: a
// fresh process instance clears any lock left behind by a previous,
// no-longer-running instance.
func (s *Store) SweepForeignInstances(instanceID string) (int64, error) {
	result := s.db.Delete(&Record{}, "instance_id <> ?", instanceID)
	return result.RowsAffected, result.Error
}
