// Package engagement persists per-device likes and download events in
// PostgreSQL. Likes carry upsert semantics: one row per (image, device)
// pair, flipping between like and dislike in place. Downloads are an
// append-only event log aggregated at query time.
package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/metrics"
)

// Actions accepted for a like upsert.
const (
	ActionLike    = "like"
	ActionDislike = "dislike"
)

// ValidAction reports whether an action string is accepted.
func ValidAction(action string) bool {
	return action == ActionLike || action == ActionDislike
}

// LikeCount is one aggregated bucket of the likes table.
type LikeCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Store is a PostgreSQL engagement store.
type Store struct {
	db *sql.DB
}

// New opens the database and verifies the connection.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for callers that manage the
// pool themselves.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics publishes the current pool stats.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files in lexical order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// UpsertLike records a device's reaction to an image. A repeat from the
// same device replaces the stored action rather than adding a row.
func (s *Store) UpsertLike(ctx context.Context, imageID, deviceID, action string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_like", time.Since(start)) }()

	if !ValidAction(action) {
		return fmt.Errorf("invalid action %q", action)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_likes (image_id, device_id, action, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (image_id, device_id) DO UPDATE SET
			action = $3,
			updated_at = NOW()`,
		imageID, deviceID, action,
	)
	if err != nil {
		return fmt.Errorf("upsert like: %w", err)
	}

	metrics.RecordLikeUpsert(action)
	return nil
}

// LikeCounts aggregates reactions for an image, grouped by action. An
// image nobody has reacted to yields an empty slice, not an error.
func (s *Store) LikeCounts(ctx context.Context, imageID string) ([]LikeCount, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("like_counts", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT action, COUNT(*)
		FROM image_likes
		WHERE image_id = $1
		GROUP BY action
		ORDER BY action`,
		imageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query like counts: %w", err)
	}
	defer rows.Close()

	counts := []LikeCount{}
	for rows.Next() {
		var c LikeCount
		if err := rows.Scan(&c.Action, &c.Count); err != nil {
			return nil, fmt.Errorf("scan like count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return counts, nil
}

// RecordDownload appends one download event.
func (s *Store) RecordDownload(ctx context.Context, imageID, deviceID string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_download", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_downloads (image_id, device_id, downloaded_at)
		VALUES ($1, $2, NOW())`,
		imageID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}

	metrics.RecordDownloadEvent()
	return nil
}

// DownloadCounts returns the total event count and the distinct device
// count for an image. Both are zero for an unknown image.
func (s *Store) DownloadCounts(ctx context.Context, imageID string) (total, unique int, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("download_counts", time.Since(start)) }()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT device_id)
		FROM image_downloads
		WHERE image_id = $1`,
		imageID,
	).Scan(&total, &unique)
	if err != nil {
		return 0, 0, fmt.Errorf("query download counts: %w", err)
	}

	return total, unique, nil
}
