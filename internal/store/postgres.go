package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vanish.share/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*PostgresStore)(nil)

// PostgresStore is the multi-instance backend. The database's conditional
// UPDATE is the serialization point for concurrent view consumption.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, applies migrations and verifies the connection.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	if err := migrateUp(url); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func migrateUp(url string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	// golang-migrate's pgx driver registers under the pgx5 scheme.
	migrateURL := url
	if strings.HasPrefix(migrateURL, "postgres://") {
		migrateURL = "pgx5://" + strings.TrimPrefix(migrateURL, "postgres://")
	} else if strings.HasPrefix(migrateURL, "postgresql://") {
		migrateURL = "pgx5://" + strings.TrimPrefix(migrateURL, "postgresql://")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const secretColumns = `id, ciphertext, encrypted_title, max_views, remaining_views,
	prevent_burn, password_hash, allowed_ip, creator_ip, owner_id, expires_at, created_at`

func (p *PostgresStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	query := `
		INSERT INTO secrets (` + secretColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := p.pool.Exec(ctx, query,
		secret.ID, secret.Ciphertext, secret.EncryptedTitle,
		secret.MaxViews, secret.RemainingViews, secret.PreventBurn,
		secret.PasswordHash, secret.AllowedIP, secret.CreatorIP,
		secret.OwnerID, secret.ExpiresAt, secret.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting secret: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE id = $1`

	secret, err := scanSecret(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching secret: %w", err)
	}
	return secret, nil
}

// ConsumeView decrements the budget with a single conditional UPDATE. The
// WHERE guard makes the check and the decrement one atomic step; when the
// update matches nothing, a follow-up read classifies the failure.
func (p *PostgresStore) ConsumeView(ctx context.Context, id string) (*models.Secret, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning consume tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	update := `
		UPDATE secrets
		SET remaining_views = remaining_views - 1
		WHERE id = $1 AND remaining_views > 0 AND expires_at > $2
		RETURNING ` + secretColumns

	secret, err := scanSecret(tx.QueryRow(ctx, update, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, p.classifyConsumeMiss(ctx, tx, id, now)
		}
		return nil, fmt.Errorf("consuming view: %w", err)
	}

	if secret.RemainingViews == 0 && !secret.PreventBurn {
		if _, err := tx.Exec(ctx, `DELETE FROM secrets WHERE id = $1 AND remaining_views = 0`, id); err != nil {
			return nil, fmt.Errorf("burning exhausted secret: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing consume tx: %w", err)
	}
	return secret, nil
}

func (p *PostgresStore) classifyConsumeMiss(ctx context.Context, tx pgx.Tx, id string, now time.Time) error {
	var remaining int
	var expiresAt time.Time
	err := tx.QueryRow(ctx,
		`SELECT remaining_views, expires_at FROM secrets WHERE id = $1`, id,
	).Scan(&remaining, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("classifying consume miss: %w", err)
	}
	if !now.Before(expiresAt) {
		return ErrExpired
	}
	return ErrExhausted
}

func (p *PostgresStore) DeleteIfExists(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting secret: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM secrets WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired secrets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) UpsertPolicy(ctx context.Context, policy *models.PolicySettings) error {
	query := `
		INSERT INTO policy_settings (
			id, read_only, disable_users, disable_user_account_creation,
			disable_file_upload, hide_allowed_ip_input, restrict_organization_email, updated_at
		)
		VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE
		SET read_only = EXCLUDED.read_only,
			disable_users = EXCLUDED.disable_users,
			disable_user_account_creation = EXCLUDED.disable_user_account_creation,
			disable_file_upload = EXCLUDED.disable_file_upload,
			hide_allowed_ip_input = EXCLUDED.hide_allowed_ip_input,
			restrict_organization_email = EXCLUDED.restrict_organization_email,
			updated_at = NOW()`

	_, err := p.pool.Exec(ctx, query,
		policy.ReadOnly, policy.DisableUsers, policy.DisableUserAccountCreation,
		policy.DisableFileUpload, policy.HideAllowedIPInput, policy.RestrictOrganizationEmail,
	)
	if err != nil {
		return fmt.Errorf("upserting policy settings: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPolicy(ctx context.Context) (*models.PolicySettings, error) {
	query := `
		SELECT read_only, disable_users, disable_user_account_creation,
			disable_file_upload, hide_allowed_ip_input, restrict_organization_email, updated_at
		FROM policy_settings WHERE id = 1`

	policy := &models.PolicySettings{}
	err := p.pool.QueryRow(ctx, query).Scan(
		&policy.ReadOnly, &policy.DisableUsers, &policy.DisableUserAccountCreation,
		&policy.DisableFileUpload, &policy.HideAllowedIPInput,
		&policy.RestrictOrganizationEmail, &policy.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("fetching policy settings: %w", err)
	}
	return policy, nil
}

func (p *PostgresStore) RecordVisit(ctx context.Context, sample *models.VisitorSample) error {
	query := `
		INSERT INTO visitor_samples (visitor_hash, path, bucket, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (visitor_hash, path, bucket) DO NOTHING`

	_, err := p.pool.Exec(ctx, query,
		sample.VisitorHash, sample.Path, sample.Bucket, sample.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("recording visitor sample: %w", err)
	}
	return nil
}

func (p *PostgresStore) IsDuplicateVisit(ctx context.Context, hash, path, bucket string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM visitor_samples WHERE visitor_hash = $1 AND path = $2 AND bucket = $3)`,
		hash, path, bucket,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking visitor sample: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanSecret(row pgx.Row) (*models.Secret, error) {
	secret := &models.Secret{}
	err := row.Scan(
		&secret.ID, &secret.Ciphertext, &secret.EncryptedTitle,
		&secret.MaxViews, &secret.RemainingViews, &secret.PreventBurn,
		&secret.PasswordHash, &secret.AllowedIP, &secret.CreatorIP,
		&secret.OwnerID, &secret.ExpiresAt, &secret.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return secret, nil
}
