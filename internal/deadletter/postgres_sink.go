package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

// deadLetterRecord is the GORM model backing the dead_letter_batches table.
// Records are stored as a single JSON column rather than a normalized child
// table: dead-lettered batches are read rarely (operator investigation),
// so query ergonomics lose to write simplicity here.
type deadLetterRecord struct {
	BatchID      string `gorm:"column:batch_id;primaryKey"`
	Attempt      int    `gorm:"column:attempt"`
	ErrorKind    string `gorm:"column:error_kind"`
	ErrorMessage string `gorm:"column:error_message"`
	FirstSeen    time.Time `gorm:"column:first_seen"`
	RecordCount  int    `gorm:"column:record_count"`
	RecordsJSON  string `gorm:"column:records_json"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (deadLetterRecord) TableName() string { return "dead_letter_batches" }

// PostgresSink persists dead-lettered batches to a Postgres table, for
// deployments that want SQL-queryable failure history rather than an object
// store.
type PostgresSink struct {
	db *gorm.DB
}

// NewPostgresSink wraps an already-connected *gorm.DB. The caller owns the
// connection lifecycle (and the dead_letter_batches migration).
func NewPostgresSink(db *gorm.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// DeadLetter inserts one row per batch. A duplicate batch ID (a second
// dead-letter attempt for the same batch) is treated as a benign upsert
// rather than an error, since the controller may legitimately dead-letter
// the same batch ID at most once per the state machine but a restart could
// replay it.
func (s *PostgresSink) DeadLetter(ctx context.Context, batch *engine.Batch, failure FailureContext) error {
	recordsJSON, err := json.Marshal(batch.Records)
	if err != nil {
		return fmt.Errorf("deadletter: marshal records for batch %s: %w", batch.ID, err)
	}

	row := deadLetterRecord{
		BatchID:      batch.ID,
		Attempt:      failure.Attempt,
		ErrorKind:    failure.Kind,
		ErrorMessage: failure.Message,
		FirstSeen:    failure.FirstSeen,
		RecordCount:  len(batch.Records),
		RecordsJSON:  string(recordsJSON),
		CreatedAt:    time.Now(),
	}

	err = s.db.WithContext(ctx).
		Where("batch_id = ?", row.BatchID).
		Assign(row).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("deadletter: insert batch %s: %w", batch.ID, err)
	}
	return nil
}
