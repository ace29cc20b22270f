package database

import (
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Database represents the database connection and operations
type Database struct {
	DB *sql.DB
}

// New creates a new Database instance
func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Init creates the required tables if they don't exist
func (d *Database) Init() error {
	createTables := `
	CREATE TABLE IF NOT EXISTS detection_records (
		id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		frame_count BIGINT NOT NULL,
		detections JSONB NOT NULL,
		metadata JSONB,
		snapshot_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (camera_id, timestamp, frame_count)
	);

	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES detection_records(id),
		rule_name TEXT NOT NULL,
		subject_track_id TEXT,
		severity DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		evidence JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	_, err := d.DB.Exec(createTables)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}
