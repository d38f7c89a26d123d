package scheduler

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Iris/internal/database"
)

type (
	// Checkpoint is the single-row resume state for the batch runner.
	// It is read once at invocation start and written at every clean
	// stop; the processed-file ledger alongside it is what actually
	// encodes the cursor into the candidate ordering.
	Checkpoint struct {
		RunID          string    `db:"run_id"`
		SchemaVersion  int       `db:"schema_version"`
		Cursor         string    `db:"cursor"`
		CycleComplete  bool      `db:"cycle_complete"`
		CycleStartedAt time.Time `db:"cycle_started_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}

	ProcessedFile struct {
		FileID        string    `db:"file_id"`
		RunID         string    `db:"run_id"`
		SchemaVersion int       `db:"schema_version"`
		Outcome       string    `db:"outcome"`
		ProcessedAt   time.Time `db:"processed_at"`
	}

	// Store persists scheduler state between invocations. Any error it
	// returns is fatal for the invocation: without readable state
	// nothing can be safely resumed.
	Store interface {
		LoadCheckpoint(db database.Queryable) (*Checkpoint, error)
		SaveCheckpoint(db database.Queryable, checkpoint Checkpoint) error

		// ProcessedFiles returns the latest ledger row per file ID.
		ProcessedFiles(db database.Queryable) (map[string]ProcessedFile, error)
		RecordProcessed(db database.Queryable, file ProcessedFile) error
	}

	sqlStore struct{}
)

func NewStore() Store {
	return &sqlStore{}
}

func (store *sqlStore) LoadCheckpoint(db database.Queryable) (*Checkpoint, error) {
	query, args, err := squirrel.
		Select("run_id", "schema_version", "cursor", "cycle_complete", "cycle_started_at", "updated_at").
		From("checkpoint").
		Where("id = 1").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct checkpoint query: %w", err)
	}

	var checkpoint Checkpoint
	if err := db.Get(&checkpoint, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return &checkpoint, nil
}

func (store *sqlStore) SaveCheckpoint(db database.Queryable, checkpoint Checkpoint) error {
	_, err := db.Exec(db.Rebind(`
		INSERT INTO checkpoint(id, run_id, schema_version, cursor, cycle_complete, cycle_started_at, updated_at)
		VALUES(1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id=excluded.run_id,
			schema_version=excluded.schema_version,
			cursor=excluded.cursor,
			cycle_complete=excluded.cycle_complete,
			cycle_started_at=excluded.cycle_started_at,
			updated_at=excluded.updated_at
	`), checkpoint.RunID, checkpoint.SchemaVersion, checkpoint.Cursor, checkpoint.CycleComplete, checkpoint.CycleStartedAt, checkpoint.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

func (store *sqlStore) ProcessedFiles(db database.Queryable) (map[string]ProcessedFile, error) {
	query, args, err := squirrel.
		Select("file_id", "run_id", "schema_version", "outcome", "processed_at").
		From("processed_files").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct processed files query: %w", err)
	}

	var rows []ProcessedFile
	if err := db.Select(&rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load processed files: %w", err)
	}

	ledger := make(map[string]ProcessedFile, len(rows))
	for _, row := range rows {
		ledger[row.FileID] = row
	}

	return ledger, nil
}

func (store *sqlStore) RecordProcessed(db database.Queryable, file ProcessedFile) error {
	_, err := db.NamedExec(`
		INSERT INTO processed_files(file_id, run_id, schema_version, outcome, processed_at)
		VALUES(:file_id, :run_id, :schema_version, :outcome, :processed_at)
		ON CONFLICT(file_id) DO UPDATE SET
			run_id=excluded.run_id,
			schema_version=excluded.schema_version,
			outcome=excluded.outcome,
			processed_at=excluded.processed_at
	`, file)
	if err != nil {
		return fmt.Errorf("failed to record processed file %s: %w", file.FileID, err)
	}

	return nil
}
