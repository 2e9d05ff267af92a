package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, username, is_volunteer, is_staff, is_blocked, accepted_coc, is_bot,
	overwrite_check_percentage, date_joined`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var override sql.NullFloat64
	if err := row.Scan(&u.ID, &u.Username, &u.IsVolunteer, &u.IsStaff, &u.IsBlocked,
		&u.AcceptedCoC, &u.IsBot, &override, &u.DateJoined); err != nil {
		return nil, err
	}
	u.OverwriteCheckPercentage = nullFloat64Ptr(override)
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return u, nil
}

// FindByUsername はユーザー名で大文字小文字を区別せずに検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return u, nil
}

// Create はユーザーを作成し、採番されたIDを設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, is_volunteer, is_staff, is_blocked, accepted_coc, is_bot,
		                    overwrite_check_percentage, date_joined)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		user.Username, user.IsVolunteer, user.IsStaff, user.IsBlocked, user.AcceptedCoC, user.IsBot,
		nullFloat64(user.OverwriteCheckPercentage), user.DateJoined,
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーのフラグと抽出確率の上書き値を更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET is_volunteer = $2, is_staff = $3, is_blocked = $4, accepted_coc = $5, is_bot = $6,
		     overwrite_check_percentage = $7
		 WHERE id = $1`,
		user.ID, user.IsVolunteer, user.IsStaff, user.IsBlocked, user.AcceptedCoC, user.IsBot,
		nullFloat64(user.OverwriteCheckPercentage),
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if !ok {
		return fmt.Errorf("user not found: %d", user.ID)
	}
	return nil
}

// ListWatched は抽出確率の上書きが設定されたユーザーをユーザー名順に返す。
func (r *PostgresUserRepo) ListWatched(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE overwrite_check_percentage IS NOT NULL
		 ORDER BY lower(username)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountVolunteers はbot以外のボランティア数を返す。
func (r *PostgresUserRepo) CountVolunteers(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE is_volunteer = TRUE AND is_bot = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count volunteers: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
