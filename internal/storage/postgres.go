package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"listing-wizard/internal/config"
	"listing-wizard/internal/listing"
	"listing-wizard/internal/wizard"
)

const (
	statsCacheKey = "listing_stats"
	statsCacheTTL = 10 * time.Minute
)

// Cache is the subset of the Redis client used for caching and counters.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
}

type PostgresStorage struct {
	db     *sqlx.DB
	cache  Cache
	logger *zap.Logger
}

// ListingSummary is the dealer-facing view of a listing row.
type ListingSummary struct {
	ID            int64              `db:"id" json:"id"`
	SubmissionID  string             `db:"submission_id" json:"submission_id"`
	VehicleType   wizard.VehicleType `db:"-" json:"vehicle_type"`
	Brand         *string            `db:"brand" json:"brand"`
	Model         *string            `db:"model" json:"model"`
	Variant       *string            `db:"variant" json:"variant"`
	Year          *int64             `db:"year" json:"year"`
	FuelType      *string            `db:"fuel_type" json:"fuel_type"`
	KmsDriven     *int64             `db:"kms_driven" json:"kms_driven"`
	ExpectedPrice *float64           `db:"expected_price" json:"expected_price"`
	City          *string            `db:"city" json:"city"`
	SellerName    *string            `db:"seller_name" json:"seller_name"`
	SellerPhone   *string            `db:"seller_phone" json:"seller_phone"`
	Status        string             `db:"status" json:"status"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}

type ListingFilter struct {
	Vehicle wizard.VehicleType
	City    string
	Limit   int
}

const defaultListLimit = 50

func NewPostgresStorage(ctx context.Context, cfg *config.Config, cache Cache, logger *zap.Logger) (*PostgresStorage, error) {
	const operation = "storage.NewPostgresStorage"

	var db *sqlx.DB
	var err error

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = 2 * time.Minute
	retryPolicy.MaxInterval = 15 * time.Second

	logger.Info("Connecting to PostgreSQL...")

	err = backoff.RetryNotify(
		func() error {
			db, err = sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			if err = db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
		backoff.WithContext(retryPolicy, ctx),
		func(err error, duration time.Duration) {
			logger.Warn("PostgreSQL connection failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", duration))
		},
	)

	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect after retries: %w", operation, err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("Successfully connected to PostgreSQL")
	return New(db, cache, logger), nil
}

// New wraps an open connection.
func New(db *sqlx.DB, cache Cache, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

func (s *PostgresStorage) DB() *sqlx.DB {
	return s.db
}

// InsertListing writes one assembled row into its vehicle table and
// returns the generated id. A rejected insert comes back as a
// *listing.SubmitError carrying the database message.
func (s *PostgresStorage) InsertListing(ctx context.Context, l *listing.Listing) (int64, error) {
	cols := l.Columns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		l.Table(),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)

	args, err := dbArgs(l.Args())
	if err != nil {
		return 0, fmt.Errorf("failed to encode listing: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return 0, &listing.SubmitError{Message: pqErr.Message, Err: err}
		}
		return 0, &listing.SubmitError{Message: err.Error(), Err: err}
	}

	if err := s.cache.Del(ctx, statsCacheKey); err != nil {
		s.logger.Warn("Failed to invalidate listing stats cache", zap.Error(err))
	}

	return id, nil
}

// dbArgs converts list and map values into driver values.
func dbArgs(values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case []string:
			out[i] = pq.Array(t)
		case map[string][]string:
			data, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			out[i] = data
		default:
			out[i] = v
		}
	}
	return out, nil
}

const summaryColumns = `id, submission_id::text AS submission_id, brand, model, variant, year, fuel_type, kms_driven,
    expected_price::float8 AS expected_price, city, seller_name, seller_phone, status, created_at`

// ListListings returns the newest listings across the selected tables.
func (s *PostgresStorage) ListListings(ctx context.Context, f ListingFilter) ([]ListingSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	schemas, err := schemasFor(f.Vehicle)
	if err != nil {
		return nil, err
	}

	var all []ListingSummary
	for _, sc := range schemas {
		query := fmt.Sprintf(`
            SELECT %s
            FROM %s
            WHERE ($1 = '' OR LOWER(city) = LOWER($1))
            ORDER BY created_at DESC
            LIMIT $2
        `, summaryColumns, sc.Table)

		var rows []ListingSummary
		if err := s.db.SelectContext(ctx, &rows, query, f.City, limit); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", sc.Table, err)
		}
		for i := range rows {
			rows[i].VehicleType = sc.Vehicle
		}
		all = append(all, rows...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func schemasFor(v wizard.VehicleType) ([]*listing.Schema, error) {
	if v == "" {
		return []*listing.Schema{&listing.CarSchema, &listing.BikeSchema}, nil
	}
	sc, err := listing.SchemaFor(v)
	if err != nil {
		return nil, err
	}
	return []*listing.Schema{sc}, nil
}

type ListingStatistics struct {
	TotalListings int            `json:"total_listings"`
	TodayListings int            `json:"today_listings"`
	WeekListings  int            `json:"week_listings"`
	ByVehicle     map[string]int `json:"by_vehicle"`
	ByCity        map[string]int `json:"by_city"`
}

func (s *PostgresStorage) GetListingStatistics(ctx context.Context) (*ListingStatistics, error) {
	if cached, err := s.cache.Get(ctx, statsCacheKey); err == nil {
		var stats ListingStatistics
		if err := json.Unmarshal(cached, &stats); err == nil {
			return &stats, nil
		}
	}

	stats := &ListingStatistics{
		ByVehicle: make(map[string]int),
		ByCity:    make(map[string]int),
	}

	type counts struct {
		Total int `db:"total"`
		Today int `db:"today"`
		Week  int `db:"week"`
	}

	for _, sc := range []*listing.Schema{&listing.CarSchema, &listing.BikeSchema} {
		var c counts
		err := s.db.GetContext(ctx, &c, fmt.Sprintf(`
            SELECT
                COUNT(*) AS total,
                COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE) AS today,
                COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE - INTERVAL '7 days') AS week
            FROM %s
        `, sc.Table))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", sc.Table, err)
		}
		stats.TotalListings += c.Total
		stats.TodayListings += c.Today
		stats.WeekListings += c.Week
		stats.ByVehicle[string(sc.Vehicle)] = c.Total

		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT COALESCE(city, ''), COUNT(*) FROM %s GROUP BY 1`, sc.Table))
		if err != nil {
			return nil, fmt.Errorf("failed to get city counts: %w", err)
		}
		for rows.Next() {
			var city string
			var n int
			if err := rows.Scan(&city, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan city count: %w", err)
			}
			if city == "" {
				city = "unknown"
			}
			stats.ByCity[city] += n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read city counts: %w", err)
		}
		rows.Close()
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(ctx, statsCacheKey, data, statsCacheTTL); err != nil {
			s.logger.Warn("Failed to cache listing stats", zap.Error(err))
		}
	}

	return stats, nil
}

// CheckRateLimit counts one attempt for key and reports whether the
// limit for the current window is exceeded.
func (s *PostgresStorage) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	key = "ratelimit:" + key

	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if _, err := s.cache.Expire(ctx, key, window); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count > limit, nil
}

func (s *PostgresStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
