// Package neo4j persists the Unified Namespace topic hierarchy as a graph.
// Nodes merge on (parent, node_name, label) so repeated messages update in
// place, linked by PARENT_OF relationships.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/pkg/retry"
)

const relationName = "PARENT_OF"

// Config holds the connection settings for the graph database.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	// MaxRetry bounds write attempts against transient failures. Defaults to 5.
	MaxRetry int
	// SleepBetweenAttempts is the fixed delay between attempts. Defaults to 10s.
	SleepBetweenAttempts time.Duration
}

func (c *Config) validate() error {
	if c.URI == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: neo4j uri is required", errors.ErrMissingConfig),
			"neo4j.Store", "NewStore", "config validation")
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.SleepBetweenAttempts <= 0 {
		c.SleepBetweenAttempts = 10 * time.Second
	}
	return nil
}

// Store is a GraphStore backed by Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	retryCfg retry.Config
	logger   *slog.Logger
}

// NewStore connects to Neo4j and verifies connectivity before returning.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, errors.WrapFatal(err, "neo4j.Store", "NewStore", "driver creation")
	}

	s := &Store{
		driver:   driver,
		database: cfg.Database,
		retryCfg: retry.Fixed(cfg.MaxRetry, cfg.SleepBetweenAttempts),
		logger:   logger,
	}

	if err := retry.Do(ctx, s.retryCfg, func() error {
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return errors.WrapTransient(err, "neo4j.Store", "NewStore", "connectivity check")
		}
		return nil
	}); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Wrap(
			fmt.Errorf("%w: %v", errors.ErrMaxRetriesExceeded, err),
			"neo4j.Store", "NewStore", fmt.Sprintf("connect to %s", cfg.URI))
	}

	logger.Info("connected to graph database", "uri", cfg.URI, "database", cfg.Database)
	return s, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	if err := s.driver.Close(ctx); err != nil {
		return errors.Wrap(err, "neo4j.Store", "Close", "driver shutdown")
	}
	s.driver = nil
	return nil
}

// MergeNode creates or updates the node identified by (parent, name, label)
// and returns its element id. Transient database failures are retried with a
// fixed delay up to the configured ceiling.
func (s *Store) MergeNode(ctx context.Context, parentID, name, label string, attrs map[string]any, ts time.Time) (string, error) {
	query, err := buildMergeQuery(parentID, label)
	if err != nil {
		return "", err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	params := map[string]any{
		"nodename":   name,
		"timestamp":  ts.UnixMilli(),
		"attributes": attrs,
	}
	if parentID != "" {
		params["parent_id"] = parentID
	}

	id, err := retry.DoWithResult(ctx, s.retryCfg, func() (string, error) {
		id, err := s.runMerge(ctx, query, params)
		if err != nil && !errors.IsTransient(err) {
			return "", retry.NonRetryable(err)
		}
		if err != nil {
			s.logger.Warn("graph write failed, will retry", "node", name, "label", label, "error", err)
		}
		return id, err
	})
	if err != nil {
		if retry.IsNonRetryable(err) {
			return "", errors.Wrap(err, "neo4j.Store", "MergeNode", "node merge")
		}
		return "", errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrMaxRetriesExceeded, err),
			"neo4j.Store", "MergeNode", "node merge")
	}
	return id, nil
}

func (s *Store) runMerge(ctx context.Context, query string, params map[string]any) (string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _, err := neo4j.GetRecordValue[string](record, "id")
		return id, err
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// buildMergeQuery assembles the Cypher for one node merge. Labels cannot be
// query parameters, so the label is validated and interpolated.
func buildMergeQuery(parentID, label string) (string, error) {
	if err := validateLabel(label); err != nil {
		return "", err
	}
	if parentID == "" {
		return fmt.Sprintf(`
MERGE (n:%s { node_name: $nodename })
ON CREATE SET n._created_timestamp = $timestamp
ON MATCH SET n._modified_timestamp = $timestamp
SET n += $attributes
RETURN elementId(n) AS id`, label), nil
	}
	return fmt.Sprintf(`
MATCH (parent) WHERE elementId(parent) = $parent_id
MERGE (parent)-[:%s]->(n:%s { node_name: $nodename })
ON CREATE SET n._created_timestamp = $timestamp
ON MATCH SET n._modified_timestamp = $timestamp
SET n += $attributes
RETURN elementId(n) AS id`, relationName, label), nil
}

// validateLabel restricts labels to identifier characters since they are
// interpolated into the query text.
func validateLabel(label string) error {
	if label == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty node label", errors.ErrTopicFormat),
			"neo4j.Store", "validateLabel", "label validation")
	}
	for _, r := range label {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return errors.WrapInvalid(
				fmt.Errorf("%w: label %q contains %q", errors.ErrTopicFormat, label, r),
				"neo4j.Store", "validateLabel", "label validation")
		}
	}
	return nil
}
