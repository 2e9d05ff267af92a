package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/blossom/internal/model"
)

// PostgresMigrationRepo はPostgreSQLを使用したアカウント移行リポジトリ。
type PostgresMigrationRepo struct {
	db *sql.DB
}

// NewPostgresMigrationRepo はPostgresMigrationRepoを生成する。
func NewPostgresMigrationRepo(db *sql.DB) *PostgresMigrationRepo {
	return &PostgresMigrationRepo{db: db}
}

// migrationTargets は移行で付け替える参照の一覧。
var migrationTargets = []struct {
	entity string
	table  string
	column string
	field  string
}{
	{"submission", "submissions", "claimed_by", model.MigrationFieldClaimedBy},
	{"submission", "submissions", "completed_by", model.MigrationFieldCompletedBy},
	{"transcription", "transcriptions", "author_id", model.MigrationFieldAuthor},
}

// FindByID は指定IDの移行を取得する。見つからない場合はnilを返す。
func (r *PostgresMigrationRepo) FindByID(ctx context.Context, id int64) (*model.AccountMigration, error) {
	m := &model.AccountMigration{}
	var (
		moderatorID          sql.NullInt64
		status               string
		channelID, messageTS sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, old_user_id, new_user_id, moderator_id, status, slack_channel_id, slack_message_ts, create_time
		 FROM account_migrations WHERE id = $1`, id,
	).Scan(&m.ID, &m.OldUserID, &m.NewUserID, &moderatorID, &status, &channelID, &messageTS, &m.CreateTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account migration: %w", err)
	}
	m.ModeratorID = nullInt64Ptr(moderatorID)
	m.Status = model.MigrationStatus(status)
	m.SlackChannelID = nullStringValue(channelID)
	m.SlackMessageTS = nullStringValue(messageTS)
	return m, nil
}

// Create は移行をPENDING状態で作成し、採番されたIDを設定する。
func (r *PostgresMigrationRepo) Create(ctx context.Context, m *model.AccountMigration) error {
	m.Status = model.MigrationPending
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO account_migrations (old_user_id, new_user_id, status, create_time)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		m.OldUserID, m.NewUserID, string(m.Status), m.CreateTime,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert account migration: %w", err)
	}
	return nil
}

// SetMessage は移行メッセージのチャット座標を保存する。
func (r *PostgresMigrationRepo) SetMessage(ctx context.Context, id int64, channelID, messageTS string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE account_migrations SET slack_channel_id = $2, slack_message_ts = $3 WHERE id = $1`,
		id, channelID, messageTS)
	if err != nil {
		return fmt.Errorf("failed to set migration message: %w", err)
	}
	return nil
}

// Approve はPENDINGの移行を承認し、旧ユーザーの参照を新ユーザーに付け替える。
func (r *PostgresMigrationRepo) Approve(ctx context.Context, id, moderatorID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldUserID, newUserID int64
	err = tx.QueryRowContext(ctx,
		`UPDATE account_migrations SET status = $2, moderator_id = $3
		 WHERE id = $1 AND status = $4
		 RETURNING old_user_id, new_user_id`,
		id, string(model.MigrationApproved), moderatorID, string(model.MigrationPending),
	).Scan(&oldUserID, &newUserID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to approve account migration: %w", err)
	}

	// 新ユーザーが担当しているチェックの書き起こしを新ユーザーに付け替えると自己レビューになる
	var selfReview bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM transcription_checks c
		     JOIN transcriptions t ON t.id = c.transcription_id
		     WHERE t.author_id = $1 AND c.moderator_id = $2
		 )`,
		oldUserID, newUserID,
	).Scan(&selfReview)
	if err != nil {
		return false, fmt.Errorf("failed to check moderator conflicts: %w", err)
	}
	if selfReview {
		return false, ErrMigrationSelfReview
	}

	for _, target := range migrationTargets {
		// 付け替える行を記録してから更新する
		_, err := tx.ExecContext(ctx,
			`INSERT INTO account_migration_items (migration_id, entity, entity_id, field)
			 SELECT $1::bigint, $2::text, id, $3::text FROM `+target.table+` WHERE `+target.column+` = $4`,
			id, target.entity, target.field, oldUserID)
		if err != nil {
			return false, fmt.Errorf("failed to record migration items: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE `+target.table+` SET `+target.column+` = $2 WHERE `+target.column+` = $1`,
			oldUserID, newUserID)
		if err != nil {
			return false, fmt.Errorf("failed to migrate %s.%s: %w", target.table, target.column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// Revert はAPPROVEDの移行を取り消し、記録した参照だけを旧ユーザーに戻す。
func (r *PostgresMigrationRepo) Revert(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldUserID int64
	err = tx.QueryRowContext(ctx,
		`UPDATE account_migrations SET status = $2
		 WHERE id = $1 AND status = $3
		 RETURNING old_user_id`,
		id, string(model.MigrationReverted), string(model.MigrationApproved),
	).Scan(&oldUserID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to revert account migration: %w", err)
	}

	for _, target := range migrationTargets {
		_, err := tx.ExecContext(ctx,
			`UPDATE `+target.table+` SET `+target.column+` = $1
			 WHERE id IN (
			     SELECT entity_id FROM account_migration_items
			     WHERE migration_id = $2 AND entity = $3 AND field = $4
			 )`,
			oldUserID, id, target.entity, target.field)
		if err != nil {
			return false, fmt.Errorf("failed to restore %s.%s: %w", target.table, target.column, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM account_migration_items WHERE migration_id = $1`, id); err != nil {
		return false, fmt.Errorf("failed to clear migration items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// Cancel はPENDINGの移行を取り消す。
func (r *PostgresMigrationRepo) Cancel(ctx context.Context, id, moderatorID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE account_migrations SET status = $2, moderator_id = $3
		 WHERE id = $1 AND status = $4`,
		id, string(model.MigrationCancelled), moderatorID, string(model.MigrationPending))
	if err != nil {
		return false, fmt.Errorf("failed to cancel account migration: %w", err)
	}
	return rowsAffected(result)
}

// compile-time interface check
var _ MigrationRepository = (*PostgresMigrationRepo)(nil)
