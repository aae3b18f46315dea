package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weather-bot/internal/models"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ErrPlaceNotFound is returned when a place id does not exist.
var ErrPlaceNotFound = errors.New("place not found")

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(cfg struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	// Set connection pool parameters
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	// Connect with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping reports whether the database is reachable.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// EnsureSchema creates the users and places tables if they do not exist.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            telegram_id BIGINT UNIQUE NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS places (
            id BIGSERIAL PRIMARY KEY,
            owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            name VARCHAR(50) NOT NULL,
            lat DOUBLE PRECISION NOT NULL,
            lon DOUBLE PRECISION NOT NULL
        )`,
	}

	for _, q := range queries {
		if _, err := db.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// GetOrCreateUser returns the user for a Telegram id, creating the row on
// first contact. The upsert keeps one row per telegram_id.
func (db *PostgresDB) GetOrCreateUser(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `
        INSERT INTO users (telegram_id)
        VALUES ($1)
        ON CONFLICT (telegram_id) DO UPDATE
        SET telegram_id = EXCLUDED.telegram_id
        RETURNING id, telegram_id, created_at
    `

	var user models.User
	err := db.pool.QueryRow(ctx, query, telegramID).Scan(
		&user.ID, &user.TelegramID, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	return &user, nil
}

// ListPlaces returns the owner's places in insertion order.
func (db *PostgresDB) ListPlaces(ctx context.Context, ownerID int64) ([]models.Place, error) {
	query := `
        SELECT id, owner_id, name, lat, lon
        FROM places
        WHERE owner_id = $1
        ORDER BY id
    `

	rows, err := db.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	defer rows.Close()

	var places []models.Place
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read places: %w", err)
	}

	return places, nil
}

func (db *PostgresDB) CreatePlace(ctx context.Context, ownerID int64, name string, lat, lon float64) (*models.Place, error) {
	query := `
        INSERT INTO places (owner_id, name, lat, lon)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `

	place := models.Place{OwnerID: ownerID, Name: name, Lat: lat, Lon: lon}
	err := db.pool.QueryRow(ctx, query, ownerID, name, lat, lon).Scan(&place.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create place: %w", err)
	}

	return &place, nil
}

// GetPlace returns a place by id regardless of owner. Callers check
// ownership themselves.
func (db *PostgresDB) GetPlace(ctx context.Context, placeID int64) (*models.Place, error) {
	query := `
        SELECT id, owner_id, name, lat, lon
        FROM places
        WHERE id = $1
    `

	var p models.Place
	err := db.pool.QueryRow(ctx, query, placeID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Lat, &p.Lon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("failed to get place: %w", err)
	}

	return &p, nil
}

// DeletePlace removes a place only if it belongs to ownerID and reports
// whether a row was removed. Deleting someone else's place is a no-op.
func (db *PostgresDB) DeletePlace(ctx context.Context, placeID, ownerID int64) (bool, error) {
	query := `
        DELETE FROM places
        WHERE id = $1 AND owner_id = $2
    `

	tag, err := db.pool.Exec(ctx, query, placeID, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete place: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
