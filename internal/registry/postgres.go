package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

// PostgresStore keeps the controller in vault_admin and bindings in oracle_bindings.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureOwner records initial as controller unless one is already stored.
func (s *PostgresStore) EnsureOwner(ctx context.Context, initial common.Address) error {
	_, err := s.db.Exec(ctx, `INSERT INTO vault_admin (id, owner) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, initial.Hex())
	return err
}

func (s *PostgresStore) Owner(ctx context.Context) (common.Address, error) {
	var owner string
	if err := s.db.QueryRow(ctx, `SELECT owner FROM vault_admin WHERE id = 1`).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, nil
		}
		return common.Address{}, err
	}
	return common.HexToAddress(owner), nil
}

func (s *PostgresStore) SetOwner(ctx context.Context, owner common.Address) error {
	_, err := s.db.Exec(ctx, `INSERT INTO vault_admin (id, owner) VALUES (1, $1)
        ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner, updated_at = NOW()`, owner.Hex())
	return err
}

func (s *PostgresStore) Binding(ctx context.Context, id asset.ID) (common.Address, bool, error) {
	var feed string
	err := s.db.QueryRow(ctx, `SELECT feed FROM oracle_bindings WHERE asset = $1`, id.String()).Scan(&feed)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return common.HexToAddress(feed), true, nil
}

func (s *PostgresStore) SetBinding(ctx context.Context, binding Binding) error {
	if binding.Feed == (common.Address{}) {
		_, err := s.db.Exec(ctx, `DELETE FROM oracle_bindings WHERE asset = $1`, binding.Asset.String())
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO oracle_bindings (asset, feed, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (asset) DO UPDATE SET feed = EXCLUDED.feed, updated_at = EXCLUDED.updated_at`,
		binding.Asset.String(), binding.Feed.Hex(), binding.UpdatedAt.UTC())
	return err
}

func (s *PostgresStore) Bindings(ctx context.Context) ([]Binding, error) {
	rows, err := s.db.Query(ctx, `SELECT asset, feed, updated_at FROM oracle_bindings ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var (
			rawAsset, feed string
			b              Binding
		)
		if err := rows.Scan(&rawAsset, &feed, &b.UpdatedAt); err != nil {
			return nil, err
		}
		id, err := asset.Parse(rawAsset)
		if err != nil {
			return nil, fmt.Errorf("stored binding %q: %w", rawAsset, err)
		}
		b.Asset = id
		b.Feed = common.HexToAddress(feed)
		b.UpdatedAt = b.UpdatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
