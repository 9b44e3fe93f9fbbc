package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/moodtrace/internal/aggregate"
	"github.com/andresmejia3/moodtrace/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrBatchNotFound is returned when an archive batch id is unknown.
var ErrBatchNotFound = errors.New("archive batch not found")

// Store manages the PostgreSQL archive of event log snapshots.
type Store struct {
	conn *pgx.Conn
}

// Batch is one archived log snapshot.
type Batch struct {
	ID         uuid.UUID
	Source     string
	SnapshotID string
	EventCount int
	ArchivedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the archive tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS archive_batches (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			snapshot_id TEXT NOT NULL UNIQUE,
			event_count INT NOT NULL,
			archived_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS classification_events (
			batch_id UUID NOT NULL REFERENCES archive_batches(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			object_label TEXT NOT NULL,
			emotion_label TEXT NOT NULL,
			PRIMARY KEY (batch_id, seq)
		);
		CREATE INDEX IF NOT EXISTS classification_events_object_idx ON classification_events (batch_id, object_label);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// ArchiveEvents stores a snapshot as a new batch. A snapshot that was already
// archived is not stored again; its existing batch id is returned with
// created set to false.
func (s *Store) ArchiveEvents(ctx context.Context, source, snapshotID string, events []types.Event) (id uuid.UUID, created bool, err error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, err
	}
	defer tx.Rollback(ctx)

	var existing string
	err = tx.QueryRow(ctx, "SELECT id::text FROM archive_batches WHERE snapshot_id = $1", snapshotID).Scan(&existing)
	if err == nil {
		id, err = uuid.Parse(existing)
		return id, false, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, err
	}

	id = uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO archive_batches (id, source, snapshot_id, event_count, archived_at)
		VALUES ($1::uuid, $2, $3, $4, NOW())
	`, id.String(), source, snapshotID, len(events))
	if err != nil {
		return uuid.Nil, false, err
	}

	rows := make([][]any, len(events))
	for i, ev := range events {
		// Stored normalized so the SQL grouping agrees with the log aggregator.
		rows[i] = []any{[16]byte(id), i + 1, ev.Timestamp, types.NormalizeLabel(ev.Object), types.NormalizeLabel(ev.Emotion)}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"classification_events"},
		[]string{"batch_id", "seq", "observed_at", "object_label", "emotion_label"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("copy events: %w", err)
	}

	return id, true, tx.Commit(ctx)
}

// ListBatches returns all archived batches, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]Batch, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id::text, source, snapshot_id, event_count, archived_at
		FROM archive_batches
		ORDER BY archived_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var id string
		if err := rows.Scan(&id, &b.Source, &b.SnapshotID, &b.EventCount, &b.ArchivedAt); err != nil {
			return nil, err
		}
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// LatestBatch returns the most recently archived batch.
func (s *Store) LatestBatch(ctx context.Context) (uuid.UUID, error) {
	var id string
	err := s.conn.QueryRow(ctx, "SELECT id::text FROM archive_batches ORDER BY archived_at DESC LIMIT 1").Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrBatchNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(id)
}

// CountMatrix groups one batch by normalized (object, emotion) in SQL and
// densifies the result with the same rules as the log aggregator.
func (s *Store) CountMatrix(ctx context.Context, batchID uuid.UUID, whitelist []string) (*aggregate.CountMatrix, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM archive_batches WHERE id = $1::uuid)", batchID.String()).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrBatchNotFound
	}

	if len(whitelist) == 0 {
		whitelist = aggregate.DefaultWhitelist
	}
	normalized := make([]string, len(whitelist))
	for i, w := range whitelist {
		normalized[i] = types.NormalizeLabel(w)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT lower(btrim(object_label, E' \t\r\n\x0B\f')) AS object,
		       lower(btrim(emotion_label, E' \t\r\n\x0B\f')) AS emotion, count(*)
		FROM classification_events
		WHERE batch_id = $1::uuid
		  AND lower(btrim(object_label, E' \t\r\n\x0B\f')) = ANY($2)
		  AND btrim(emotion_label, E' \t\r\n\x0B\f') <> ''
		GROUP BY 1, 2
	`, batchID.String(), normalized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var object, emotion string
		var n int
		if err := rows.Scan(&object, &emotion, &n); err != nil {
			return nil, err
		}
		if counts[object] == nil {
			counts[object] = make(map[string]int)
		}
		counts[object][emotion] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return aggregate.FromCounts(counts)
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS classification_events CASCADE;
		DROP TABLE IF EXISTS archive_batches CASCADE;
	`)
	return err
}
