package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/leafguard/internal/model"
)

// HistoryRepo persists analyses in the 'history_entries' side table.  The
// auto-increment seq column records insertion order; pages are served in
// reverse seq order so the newest analysis comes first.
type HistoryRepo struct{ DB *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{DB: db} }

// Append inserts one entry.  The foreign key on user_id rejects unknown users.
func (r *HistoryRepo) Append(ctx context.Context, userID string, e model.HistoryEntry) (model.HistoryEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.AnalyzedAt.IsZero() {
		e.AnalyzedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO history_entries
		 (id, user_id, plant_type, status, recommendation, image_url, thumbnail_url, analyzed_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, userID, e.PlantType, e.Status, e.Recommendation, e.ImageURL, e.ThumbnailURL, e.AnalyzedAt)
	if err != nil {
		if mysqlErrno(err) == mysqlForeignKeyFailed {
			return model.HistoryEntry{}, ErrNotFound
		}
		return model.HistoryEntry{}, err
	}
	return e, nil
}

// Page loads the owner's name, the total entry count and one page of entries.
func (r *HistoryRepo) Page(ctx context.Context, userID string, offset, limit int) (model.HistoryPage, error) {
	var page model.HistoryPage
	err := r.DB.QueryRowContext(ctx, "SELECT name FROM users WHERE id=? LIMIT 1", userID).Scan(&page.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryPage{}, ErrNotFound
	}
	if err != nil {
		return model.HistoryPage{}, err
	}

	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM history_entries WHERE user_id=?", userID).Scan(&page.Total); err != nil {
		return model.HistoryPage{}, fmt.Errorf("count history: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, plant_type, status, recommendation, image_url, thumbnail_url, analyzed_at
		 FROM history_entries WHERE user_id=? ORDER BY seq DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return model.HistoryPage{}, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	page.Entries = make([]model.HistoryEntry, 0, limit)
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.PlantType, &e.Status, &e.Recommendation,
			&e.ImageURL, &e.ThumbnailURL, &e.AnalyzedAt); err != nil {
			return model.HistoryPage{}, fmt.Errorf("scan history: %w", err)
		}
		page.Entries = append(page.Entries, e)
	}
	return page, rows.Err()
}

// MySQLStore combines the two MySQL repositories into a repository.Store.
type MySQLStore struct {
	*UserRepo
	*HistoryRepo
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{UserRepo: NewUserRepo(db), HistoryRepo: NewHistoryRepo(db), db: db}
}

func (s *MySQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *MySQLStore) Close(context.Context) error { return s.db.Close() }
