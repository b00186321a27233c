// Package postgres implements the persistent alert sink.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
)

// AlertStore persists alerts in PostgreSQL. The unique index on
// transaction_id enforces the at-most-one-alert-per-transaction
// invariant across service replicas.
type AlertStore struct {
	pool *pgxpool.Pool
}

// Connect opens the connection pool and verifies connectivity.
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*AlertStore, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &AlertStore{pool: pool}, nil
}

// Close releases the pool.
func (s *AlertStore) Close() {
	s.pool.Close()
}

const createAlertSQL = `
INSERT INTO fraud_alerts
    (id, transaction_id, user_id, risk_tier, status,
     anomaly_score, fraud_probability, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (transaction_id) DO NOTHING`

// Create implements alerting.AlertStore. A conflicting insert returns
// the pre-existing alert with created=false.
func (s *AlertStore) Create(ctx context.Context, alert *domain.Alert) (*domain.Alert, bool, error) {
	tag, err := s.pool.Exec(ctx, createAlertSQL,
		alert.ID, alert.TransactionID, alert.UserID, alert.RiskTier, alert.Status,
		alert.AnomalyScore, alert.FraudProbability, alert.Notes,
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert alert: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := s.GetByTransactionID(ctx, alert.TransactionID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return alert, true, nil
}

const getAlertSQL = `
SELECT id, transaction_id, user_id, risk_tier, status,
       anomaly_score, fraud_probability, notes, created_at, updated_at
FROM fraud_alerts
WHERE transaction_id = $1`

// GetByTransactionID implements alerting.AlertStore.
func (s *AlertStore) GetByTransactionID(ctx context.Context, txID string) (*domain.Alert, error) {
	var alert domain.Alert
	err := s.pool.QueryRow(ctx, getAlertSQL, txID).Scan(
		&alert.ID, &alert.TransactionID, &alert.UserID, &alert.RiskTier, &alert.Status,
		&alert.AnomalyScore, &alert.FraudProbability, &alert.Notes,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	return &alert, nil
}

const updateAlertSQL = `
UPDATE fraud_alerts
SET status = $2, notes = $3, updated_at = $4
WHERE transaction_id = $1`

// Update implements alerting.AlertStore.
func (s *AlertStore) Update(ctx context.Context, alert *domain.Alert) error {
	tag, err := s.pool.Exec(ctx, updateAlertSQL,
		alert.TransactionID, alert.Status, alert.Notes, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}
