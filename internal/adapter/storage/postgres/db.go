package postgres

import (
	"context"
	"fmt"

	"payment-collection-broker/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Pool is the subset of *pgxpool.Pool used by the repositories.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// NewPool creates a PostgreSQL connection pool using pgx.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Msg("PostgreSQL connection pool established")

	return pool, nil
}

const (
	constraintActiveKey  = "ux_payment_transactions_active_key"
	constraintUpstreamID = "ux_payment_transactions_upstream_id"
	constraintPrimaryKey = "payment_transactions_pkey"

	constraintCustomerPK         = "customers_pkey"
	constraintCustomerMSISDN     = "ux_customers_msisdn"
	constraintCustomerExternalID = "ux_customers_external_id"
)

// schema is applied by EnsureSchema. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		correlation_id           TEXT PRIMARY KEY,
		upstream_id              TEXT NOT NULL,
		policy_ref               TEXT NOT NULL,
		payer_id                 TEXT NOT NULL,
		amount                   BIGINT NOT NULL CHECK (amount > 0),
		currency                 CHAR(3) NOT NULL,
		provider                 TEXT NOT NULL,
		status                   TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
		caller_reference         TEXT,
		failure_reason           TEXT,
		last_webhook_fingerprint TEXT,
		created_at               TIMESTAMPTZ NOT NULL,
		updated_at               TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintUpstreamID + `
		ON payment_transactions (upstream_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintActiveKey + `
		ON payment_transactions (policy_ref, payer_id)
		WHERE status IN ('PENDING', 'COMPLETED')`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id             UUID PRIMARY KEY,
		action         TEXT NOT NULL,
		correlation_id TEXT,
		upstream_id    TEXT,
		details        JSONB,
		ip_address     TEXT,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_correlation_id ON audit_logs (correlation_id)`,
	`CREATE TABLE IF NOT EXISTS customers (
		guid                 TEXT PRIMARY KEY,
		first_name           TEXT NOT NULL,
		surname              TEXT NOT NULL,
		msisdn               TEXT NOT NULL,
		date_of_birth        DATE NOT NULL,
		national_id          TEXT NOT NULL,
		partner_guid         TEXT NOT NULL,
		display_language     TEXT NOT NULL,
		beneficiary_msisdn   TEXT,
		beneficiary_name     TEXT,
		external_id          TEXT,
		registration_channel TEXT NOT NULL,
		account_number       TEXT,
		account_type         TEXT,
		branch_code          TEXT,
		status               TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		kyc_reference        TEXT,
		kyc_details          JSONB,
		rejection_reason     TEXT,
		verified_at          TIMESTAMPTZ,
		last_kyc_fingerprint TEXT,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintCustomerMSISDN + ` ON customers (msisdn)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintCustomerExternalID + `
		ON customers (external_id)
		WHERE external_id IS NOT NULL`,
}

// EnsureSchema creates the tables and indices the store relies on.
func EnsureSchema(ctx context.Context, pool Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
