package inventory

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alphaai/storagemarket/types"
)

//go:embed schema.sql
var schemaSQL string

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InitSchema applies the embedded schema. Idempotent.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const providerColumns = `id, name, wallet_address, available_storage,
	price_per_gb::text, COALESCE(ipfs_node_id, ''), is_active, created_at, updated_at`

func scanProvider(row pgx.Row) (*types.Provider, error) {
	var p types.Provider
	var price string
	err := row.Scan(&p.ID, &p.Name, &p.WalletAddress, &p.AvailableGB,
		&price, &p.IPFSNodeID, &p.Active, &p.CreatedAt, &p.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.PricePerGB, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("bad price_per_gb for provider %s: %w", p.ID, err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*types.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM storage_providers WHERE id = $1`, id)
	return scanProvider(row)
}

func (s *PostgresStore) GetProviderByWallet(ctx context.Context, wallet string) (*types.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM storage_providers WHERE wallet_address = $1`, wallet)
	return scanProvider(row)
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]types.Provider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerColumns+` FROM storage_providers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []types.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) RegisterProvider(ctx context.Context, p *types.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO storage_providers
			(id, name, wallet_address, available_storage, price_per_gb, ipfs_node_id, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, p.ID, p.Name, p.WalletAddress, p.AvailableGB, p.PricePerGB.String(), p.IPFSNodeID, p.Active)
	return err
}

// ConditionalUpdateCapacity is the compare-and-swap every capacity
// writer must use. The expected value rides in the WHERE clause, so
// the check and the write are one atomic statement.
func (s *PostgresStore) ConditionalUpdateCapacity(ctx context.Context, id string, expected, newGB int64) error {
	if newGB < 0 {
		return fmt.Errorf("capacity cannot go negative: %d", newGB)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE storage_providers
		SET available_storage = $1, updated_at = NOW()
		WHERE id = $2 AND available_storage = $3
	`, newGB, id, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCapacityConflict
	}
	return nil
}

func (s *PostgresStore) InsertAllocation(ctx context.Context, a *types.Allocation) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO storage_allocations
			(id, user_address, provider_id, allocated_gb, paid_amount, transaction_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.UserAddress, a.ProviderID, a.AllocatedGB, a.PaidAmount.String(),
		a.TransactionHash, a.CreatedAt, a.ExpiresAt)
	return err
}

func (s *PostgresStore) ActiveAllocatedGB(ctx context.Context, providerID string, now time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(allocated_gb), 0)
		FROM storage_allocations
		WHERE provider_id = $1 AND expires_at >= $2
	`, providerID, now).Scan(&total)
	return total, err
}

func (s *PostgresStore) SetProviderStatus(ctx context.Context, wallet string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE storage_providers
		SET is_active = $1, updated_at = NOW()
		WHERE wallet_address = $2
	`, active, wallet)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
