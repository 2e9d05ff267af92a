package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// FindByName は指定名のソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByName(ctx context.Context, name string) (*model.Source, error) {
	s := &model.Source{}
	err := r.db.QueryRowContext(ctx,
		`SELECT name, created_at FROM sources WHERE name = $1`, name,
	).Scan(&s.Name, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source: %w", err)
	}
	return s, nil
}

// Ensure は指定名のソースを取得し、存在しない場合は作成する。
func (r *PostgresSourceRepo) Ensure(ctx context.Context, name string) (*model.Source, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure source: %w", err)
	}
	return r.FindByName(ctx, name)
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
