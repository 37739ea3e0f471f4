package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Cardify/internal/config"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
)

const uniqueViolation = "23505"

type DatabaseClient struct {
	db *sql.DB
}

var _ DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends verify-ca parameters when a root certificate is configured.
func buildDSN(cfg *config.Config) (string, error) {
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if cfg.SslCertPath == "" {
		return cfg.DatabaseURL, nil
	}
	if _, err := os.Stat(cfg.SslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", cfg.SslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q, user.ID, user.FirstName, user.Email, user.PasswordHash).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("email %s: %w", user.Email, apperrors.ErrConflict)
	}
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, daily_generation_count, last_generation_reset, created_at, updated_at
		FROM users WHERE email = $1
	`
	return c.scanUser(c.db.QueryRowContext(ctx, q, email))
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, daily_generation_count, last_generation_reset, created_at, updated_at
		FROM users WHERE id = $1
	`
	return c.scanUser(c.db.QueryRowContext(ctx, q, id))
}

func (c *DatabaseClient) scanUser(row *sql.Row) (*models.User, error) {
	var (
		u     models.User
		reset sql.NullTime
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.DailyGenerationCount, &reset, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reset.Valid {
		t := reset.Time
		u.LastGenerationReset = &t
	}
	return &u, nil
}

// Quota counter

func (c *DatabaseClient) GetQuotaState(ctx context.Context, userID string) (*models.QuotaState, error) {
	const q = `SELECT daily_generation_count, last_generation_reset FROM users WHERE id = $1`
	var (
		st    models.QuotaState
		reset sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q, userID).Scan(&st.Count, &reset)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reset.Valid {
		t := reset.Time
		st.LastReset = &t
	}
	return &st, nil
}

func (c *DatabaseClient) ResetQuota(ctx context.Context, userID string, at time.Time) error {
	const q = `
		UPDATE users
		SET daily_generation_count = 0, last_generation_reset = $2, updated_at = now()
		WHERE id = $1
	`
	return execOne(ctx, c.db, q, "user", userID, at)
}

// IncrementQuota bumps the counter in a single statement so concurrent increments never lose updates.
func (c *DatabaseClient) IncrementQuota(ctx context.Context, userID string) error {
	const q = `
		UPDATE users
		SET daily_generation_count = daily_generation_count + 1, updated_at = now()
		WHERE id = $1
	`
	return execOne(ctx, c.db, q, "user", userID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, ex execer, q, kind, id string, extra ...any) error {
	args := append([]any{id}, extra...)
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, apperrors.ErrNotFound)
	}
	return nil
}
