package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capitan-vision/sitewatch/internal/models"
)

// StoredRecord is a persisted DetectionRecord together with its
// generated identifier and the snapshot key (when a snapshot exists).
type StoredRecord struct {
	ID          string
	SnapshotKey string
	Record      models.DetectionRecord
	Violations  []models.Violation
}

// SaveRecord writes a DetectionRecord and its violations in one
// transaction. Idempotent on (camera_id, timestamp, frame_count):
// submitting the same key twice leaves exactly one stored record and
// one set of violation rows. Returns the record id.
func (d *Database) SaveRecord(ctx context.Context, recordID, snapshotKey string, record models.DetectionRecord, violations []models.Violation) (string, error) {
	detections, err := json.Marshal(record.Detections)
	if err != nil {
		return "", fmt.Errorf("marshal detections: %w", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Timestamps are stored in UTC regardless of the writer's zone.
	var storedID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO detection_records (id, camera_id, timestamp, frame_count, detections, metadata, snapshot_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (camera_id, timestamp, frame_count) DO NOTHING
		RETURNING id
	`,
		recordID,
		record.CameraID,
		record.Timestamp.UTC(),
		record.FrameCount,
		detections,
		metadata,
		nullable(snapshotKey),
	).Scan(&storedID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Duplicate key: the record (and its violations) already
			// exist, this write is a no-op.
			if err := tx.Commit(); err != nil {
				return "", fmt.Errorf("commit duplicate write: %w", err)
			}
			return d.recordIDByKey(ctx, record)
		}
		return "", fmt.Errorf("insert detection record: %w", err)
	}

	for _, v := range violations {
		evidence, err := json.Marshal(v.Evidence)
		if err != nil {
			return "", fmt.Errorf("marshal evidence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO violations (id, record_id, rule_name, subject_track_id, severity, confidence, evidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			uuid.New().String(),
			storedID,
			v.RuleName,
			nullable(v.SubjectTrackID),
			v.Severity,
			v.Confidence,
			evidence,
		); err != nil {
			return "", fmt.Errorf("insert violation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record write: %w", err)
	}

	return storedID, nil
}

func (d *Database) recordIDByKey(ctx context.Context, record models.DetectionRecord) (string, error) {
	var id string
	err := d.DB.QueryRowContext(ctx, `
		SELECT id FROM detection_records
		WHERE camera_id = $1 AND timestamp = $2 AND frame_count = $3
	`, record.CameraID, record.Timestamp.UTC(), record.FrameCount).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup existing record: %w", err)
	}
	return id, nil
}

// GetRecord reads one stored record back as typed entities. This is the
// single deserialization boundary for the storage read path: rows never
// escape as raw maps.
func (d *Database) GetRecord(ctx context.Context, recordID string) (*StoredRecord, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, camera_id, timestamp, frame_count, detections, metadata, snapshot_key
		FROM detection_records
		WHERE id = $1
	`, recordID)

	stored, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := d.DB.QueryContext(ctx, `
		SELECT rule_name, subject_track_id, severity, confidence, evidence
		FROM violations
		WHERE record_id = $1
		ORDER BY created_at
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v        models.Violation
			trackID  sql.NullString
			evidence []byte
		)
		if err := rows.Scan(&v.RuleName, &trackID, &v.Severity, &v.Confidence, &evidence); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.SubjectTrackID = trackID.String
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &v.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence: %w", err)
			}
		}
		stored.Violations = append(stored.Violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stored, nil
}

// GetRecordsByCamera returns the newest stored records for a camera,
// frame order preserved within the result.
func (d *Database) GetRecordsByCamera(ctx context.Context, cameraID string, limit int) ([]StoredRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, camera_id, timestamp, frame_count, detections, metadata, snapshot_key
		FROM detection_records
		WHERE camera_id = $1
		ORDER BY frame_count DESC
		LIMIT $2
	`, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		stored, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *stored)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord converts one storage row into typed entities.
func scanRecord(row rowScanner) (*StoredRecord, error) {
	var (
		stored      StoredRecord
		timestamp   time.Time
		detections  []byte
		metadata    []byte
		snapshotKey sql.NullString
	)
	if err := row.Scan(
		&stored.ID,
		&stored.Record.CameraID,
		&timestamp,
		&stored.Record.FrameCount,
		&detections,
		&metadata,
		&snapshotKey,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	stored.Record.Timestamp = timestamp.UTC()
	stored.SnapshotKey = snapshotKey.String

	if err := json.Unmarshal(detections, &stored.Record.Detections); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &stored.Record.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return &stored, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
