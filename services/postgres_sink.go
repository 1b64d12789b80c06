package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	_ "github.com/lib/pq"
)

// PostgresSink implements Sink with PostgreSQL persistence. Only the latest
// reading per pseudonym is kept.
type PostgresSink struct {
	db *sql.DB
}

var _ ExpiringSink = (*PostgresSink)(nil)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Database string `yaml:"database" toml:"database"`
	SSLMode  string `yaml:"sslmode" toml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresSink connects, pings and migrates the readings table.
func NewPostgresSink(config *PostgresConfig) (*PostgresSink, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	sink := &PostgresSink{db: db}
	if err := sink.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return sink, nil
}

// readingsSchema keys readings by the envelope's pseudonym field, which may
// carry a full origin URI, so the key has no length bound.
const readingsSchema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	pseudonym TEXT PRIMARY KEY,
	content_format INTEGER NOT NULL,
	payload BYTEA NOT NULL,
	received_at TIMESTAMP WITH TIME ZONE NOT NULL,
	expires_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS idx_readings_expires ON sensor_readings(expires_at);
`

func (s *PostgresSink) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, readingsSchema)
	return err
}

// Store upserts the latest reading of r.Pseudonym.
func (s *PostgresSink) Store(ctx context.Context, r *Reading) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var expires sql.NullTime
	if r.Lifetime > 0 {
		expires = sql.NullTime{Time: r.Received.Add(r.Lifetime), Valid: true}
	}

	query := `
	INSERT INTO sensor_readings
		(pseudonym, content_format, payload, received_at, expires_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (pseudonym) DO UPDATE SET
		content_format = EXCLUDED.content_format,
		payload = EXCLUDED.payload,
		received_at = EXCLUDED.received_at,
		expires_at = EXCLUDED.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.Pseudonym,
		int(r.Format),
		r.Payload,
		r.Received,
		expires,
	)
	return err
}

// Latest returns the reading of pseudonym unless it has expired.
func (s *PostgresSink) Latest(ctx context.Context, pseudonym string) (*Reading, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		format   int
		payload  []byte
		received time.Time
		expires  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content_format, payload, received_at, expires_at
		FROM sensor_readings
		WHERE pseudonym = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, pseudonym).Scan(&format, &payload, &received, &expires)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query reading: %w", err)
	}

	r := &Reading{
		Pseudonym: pseudonym,
		Format:    protocol.ContentFormat(format),
		Payload:   payload,
		Received:  received,
	}
	if expires.Valid {
		r.Lifetime = expires.Time.Sub(received)
	}
	return r, true, nil
}

// PurgeExpired deletes readings whose lifetime has passed.
func (s *PostgresSink) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sensor_readings WHERE expires_at IS NOT NULL AND expires_at <= NOW()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
