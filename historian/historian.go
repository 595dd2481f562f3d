// Package historian archives every MQTT message into a TimescaleDB hypertable
// as a (time, topic, client_id, mqtt_msg) row, keyed for time-series queries.
package historian

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	// database/sql driver for PostgreSQL/TimescaleDB.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/pkg/retry"
)

// Config holds the connection settings for the historian database.
type Config struct {
	Hostname string
	Port     int
	Database string
	Table    string
	Username string
	Password string
	SSLMode  string
	// MaxRetry bounds insert attempts against transient failures. Defaults to 5.
	MaxRetry int
	// SleepBetweenAttempts is the fixed delay between attempts. Defaults to 10s.
	SleepBetweenAttempts time.Duration
}

func (c *Config) validate() error {
	if c.Hostname == "" || c.Database == "" || c.Table == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: historian hostname, database and table are required", errors.ErrMissingConfig),
			"historian.Historian", "NewHistorian", "config validation")
	}
	if err := validateTableName(c.Table); err != nil {
		return err
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.SleepBetweenAttempts <= 0 {
		c.SleepBetweenAttempts = 10 * time.Second
	}
	return nil
}

func (c *Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Hostname, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

// Historian writes messages to the archive table.
type Historian struct {
	db       *sql.DB
	insert   string
	retryCfg retry.Config
	logger   *slog.Logger
}

// NewHistorian opens the database and verifies connectivity.
func NewHistorian(ctx context.Context, cfg Config, logger *slog.Logger) (*Historian, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		return nil, errors.WrapFatal(err, "historian.Historian", "NewHistorian", "database open")
	}
	h, err := newWithDB(ctx, db, cfg, logger, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// newWithDB wires a Historian onto an existing handle; tests inject a mock.
func newWithDB(ctx context.Context, db *sql.DB, cfg Config, logger *slog.Logger, ping bool) (*Historian, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Historian{
		db: db,
		insert: fmt.Sprintf("INSERT INTO %s ( time, topic, client_id, mqtt_msg ) VALUES ($1,$2,$3,$4)",
			cfg.Table),
		retryCfg: retry.Fixed(cfg.MaxRetry, cfg.SleepBetweenAttempts),
		logger:   logger,
	}

	if ping {
		if err := retry.Do(ctx, h.retryCfg, func() error {
			if err := db.PingContext(ctx); err != nil {
				return errors.WrapTransient(err, "historian.Historian", "NewHistorian", "connectivity check")
			}
			return nil
		}); err != nil {
			return nil, errors.Wrap(
				fmt.Errorf("%w: %v", errors.ErrMaxRetriesExceeded, err),
				"historian.Historian", "NewHistorian",
				fmt.Sprintf("connect to %s:%d", cfg.Hostname, cfg.Port))
		}
		logger.Info("connected to historian database", "host", cfg.Hostname, "database", cfg.Database, "table", cfg.Table)
	}
	return h, nil
}

// Close releases the database handle.
func (h *Historian) Close() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	if err != nil {
		return errors.Wrap(err, "historian.Historian", "Close", "database shutdown")
	}
	return nil
}

// Persist archives one message. The message is stored as JSONB; transient
// database failures are retried with a fixed delay up to the ceiling.
func (h *Historian) Persist(ctx context.Context, clientID, topic string, ts time.Time, message map[string]any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.WrapInvalid(err, "historian.Historian", "Persist", "message serialization")
	}

	err = retry.Do(ctx, h.retryCfg, func() error {
		_, execErr := h.db.ExecContext(ctx, h.insert, ts, topic, clientID, body)
		if execErr == nil {
			return nil
		}
		if !errors.IsTransient(execErr) {
			return retry.NonRetryable(execErr)
		}
		h.logger.Warn("historian insert failed, will retry", "topic", topic, "error", execErr)
		return execErr
	})
	if err != nil {
		if retry.IsNonRetryable(err) {
			return errors.WrapInvalid(err, "historian.Historian", "Persist", "message insert")
		}
		return errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrMaxRetriesExceeded, err),
			"historian.Historian", "Persist", "message insert")
	}
	return nil
}

// validateTableName restricts the table to identifier characters since it is
// interpolated into the insert statement.
func validateTableName(table string) error {
	for _, r := range table {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '.' {
			return errors.WrapFatal(
				fmt.Errorf("%w: table name %q contains %q", errors.ErrInvalidConfig, table, r),
				"historian.Historian", "validateTableName", "config validation")
		}
	}
	return nil
}
