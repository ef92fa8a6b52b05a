package delivery

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	Save(ctx context.Context, r *Record) error
	ListFailed(ctx context.Context, limit int) ([]Record, error)
	CountFailed(ctx context.Context) (int, error)
	IncrementStat(ctx context.Context, key string, delta int64) error
	GetStat(ctx context.Context, key string) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, rec *Record) error {
	query := `INSERT INTO delivery_records (delivery_key, article_id, feed_id, feed_url, channel, delivered, status_code, comment, execution_ms) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, added_at`
	return r.db.QueryRowContext(ctx, query,
		rec.DeliveryKey, rec.ArticleID, rec.FeedID, rec.FeedURL, rec.Channel,
		rec.Delivered, rec.StatusCode, rec.Comment, rec.ExecutionMs,
	).Scan(&rec.ID, &rec.AddedAt)
}

func (r *PostgresRepo) ListFailed(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, delivery_key, article_id, feed_id, feed_url, channel, delivered, status_code, comment, execution_ms, added_at FROM delivery_records WHERE delivered = FALSE ORDER BY added_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.DeliveryKey, &rec.ArticleID, &rec.FeedID, &rec.FeedURL, &rec.Channel,
			&rec.Delivered, &rec.StatusCode, &rec.Comment, &rec.ExecutionMs, &rec.AddedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepo) CountFailed(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM delivery_records WHERE delivered = FALSE`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) IncrementStat(ctx context.Context, key string, delta int64) error {
	query := `INSERT INTO general_stats (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = general_stats.value + EXCLUDED.value, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, key, delta)
	return err
}

// GetStat returns 0 for a stat that was never incremented.
func (r *PostgresRepo) GetStat(ctx context.Context, key string) (int64, error) {
	var value int64
	query := `SELECT value FROM general_stats WHERE key = $1`
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

func (r *PostgresRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM delivery_records WHERE added_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
