// Package journal keeps an append-only audit of drive lifecycle events in
// Postgres.
package journal

import (
	"context"
	"log"
	"time"

	"drivetracker/internal/db"
)

const writeTimeout = 5 * time.Second

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS drive_events (
			id          BIGSERIAL PRIMARY KEY,
			drive_id    TEXT NOT NULL,
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			point_count INTEGER NOT NULL DEFAULT 0,
			distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
			detail      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (s *Service) Insert(ctx context.Context, e Entry) (Entry, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO drive_events (drive_id, kind, status, point_count, distance_km, detail)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`, e.DriveID, string(e.Kind), e.Status, e.PointCount, e.DistanceKm, e.Detail)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, driveID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, drive_id, kind, status, point_count, distance_km, detail, created_at
		FROM drive_events WHERE drive_id=$1
		ORDER BY id
	`, driveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.DriveID, &kind, &e.Status, &e.PointCount, &e.DistanceKm, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Writer serialises journal inserts on one goroutine so callers never wait on
// the database.
type Writer struct {
	svc   *Service
	queue chan Entry
}

func NewWriter(svc *Service, size int) *Writer {
	return &Writer{svc: svc, queue: make(chan Entry, size)}
}

// Record queues e. A full queue drops the entry.
func (w *Writer) Record(e Entry) {
	select {
	case w.queue <- e:
	default:
		log.Printf("journal: queue full, dropping %s for drive %s", e.Kind, e.DriveID)
	}
}

// Run writes queued entries until ctx is done.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.queue:
			insertCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			if _, err := w.svc.Insert(insertCtx, e); err != nil {
				log.Printf("journal: insert %s failed: %v", e.Kind, err)
			}
			cancel()
		}
	}
}
