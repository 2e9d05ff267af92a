package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/blossom/internal/model"
)

// PostgresCheckRepo はPostgreSQLを使用した書き起こしチェックリポジトリ。
type PostgresCheckRepo struct {
	db *sql.DB
}

// NewPostgresCheckRepo はPostgresCheckRepoを生成する。
func NewPostgresCheckRepo(db *sql.DB) *PostgresCheckRepo {
	return &PostgresCheckRepo{db: db}
}

const checkColumns = `c.id, c.transcription_id, c.moderator_id, c.status, c.trigger_reason,
	c.claim_time, c.complete_time, c.slack_channel_id, c.slack_message_ts, c.create_time`

// queryer は*sql.DBと*sql.Txの共通インターフェース。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanCheck(row rowScanner) (*model.TranscriptionCheck, error) {
	c := &model.TranscriptionCheck{}
	var (
		moderatorID             sql.NullInt64
		status                  string
		claimTime, completeTime sql.NullTime
		channelID, messageTS    sql.NullString
	)
	err := row.Scan(&c.ID, &c.TranscriptionID, &moderatorID, &status, &c.Trigger,
		&claimTime, &completeTime, &channelID, &messageTS, &c.CreateTime)
	if err != nil {
		return nil, err
	}
	c.ModeratorID = nullInt64Ptr(moderatorID)
	c.Status = model.CheckStatus(status)
	c.ClaimTime = nullTimePtr(claimTime)
	c.CompleteTime = nullTimePtr(completeTime)
	c.SlackChannelID = nullStringValue(channelID)
	c.SlackMessageTS = nullStringValue(messageTS)
	return c, nil
}

// insertCheck はチェックを作成する。同じ書き起こしのチェックが既に存在する場合は既存のものを返す。
// 投稿完了のトランザクションからも利用する。
func insertCheck(ctx context.Context, q queryer, check *model.TranscriptionCheck) (*model.TranscriptionCheck, bool, error) {
	status := check.Status
	if status == "" {
		status = model.CheckPending
	}
	created, err := scanCheck(q.QueryRowContext(ctx,
		`INSERT INTO transcription_checks AS c (transcription_id, moderator_id, status, trigger_reason, create_time)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (transcription_id) DO NOTHING
		 RETURNING `+checkColumns,
		check.TranscriptionID, nullInt64(check.ModeratorID), string(status), check.Trigger, check.CreateTime))
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to insert transcription check: %w", err)
	}

	// 競合した場合は既存のチェックを返す
	existing, err := scanCheck(q.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM transcription_checks c WHERE c.transcription_id = $1`,
		check.TranscriptionID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to find existing transcription check: %w", err)
	}
	return existing, false, nil
}

func (r *PostgresCheckRepo) findOne(ctx context.Context, where string, arg any) (*model.TranscriptionCheck, error) {
	c, err := scanCheck(r.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM transcription_checks c WHERE `+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transcription check: %w", err)
	}
	return c, nil
}

// FindByID は指定IDのチェックを取得する。見つからない場合はnilを返す。
func (r *PostgresCheckRepo) FindByID(ctx context.Context, id int64) (*model.TranscriptionCheck, error) {
	return r.findOne(ctx, `c.id = $1`, id)
}

// FindByTranscriptionID は書き起こしに紐づくチェックを取得する。見つからない場合はnilを返す。
func (r *PostgresCheckRepo) FindByTranscriptionID(ctx context.Context, transcriptionID int64) (*model.TranscriptionCheck, error) {
	return r.findOne(ctx, `c.transcription_id = $1`, transcriptionID)
}

// Create はチェックを作成する。既に存在する場合は既存のチェックとfalseを返す。
func (r *PostgresCheckRepo) Create(ctx context.Context, check *model.TranscriptionCheck) (*model.TranscriptionCheck, bool, error) {
	return insertCheck(ctx, r.db, check)
}

// Transition はチェックの状態とモデレーターを比較交換で更新する。
func (r *PostgresCheckRepo) Transition(ctx context.Context, p CheckTransition) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transcription_checks
		 SET status = $4, moderator_id = $5, claim_time = $6, complete_time = $7
		 WHERE id = $1 AND status = $2 AND moderator_id IS NOT DISTINCT FROM $3`,
		p.ID, string(p.FromStatus), nullInt64(p.FromModerator),
		string(p.ToStatus), nullInt64(p.ToModerator), nullTime(p.ClaimTime), nullTime(p.CompleteTime))
	if err != nil {
		return false, fmt.Errorf("failed to transition transcription check: %w", err)
	}
	return rowsAffected(result)
}

// SetMessage はチェックメッセージのチャット座標を保存する。
func (r *PostgresCheckRepo) SetMessage(ctx context.Context, id int64, channelID, messageTS string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcription_checks SET slack_channel_id = $2, slack_message_ts = $3 WHERE id = $1`,
		id, channelID, messageTS)
	if err != nil {
		return fmt.Errorf("failed to set check message: %w", err)
	}
	return nil
}

// ListByAuthor は指定ユーザーの書き起こしに対するチェックのうち、指定状態のものを新しい順に返す。
func (r *PostgresCheckRepo) ListByAuthor(ctx context.Context, authorID int64, statuses []model.CheckStatus) ([]*model.TranscriptionCheck, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM transcription_checks c
		 JOIN transcriptions t ON t.id = c.transcription_id
		 WHERE t.author_id = $1 AND c.status = ANY($2)
		 ORDER BY c.create_time DESC, c.id DESC`,
		authorID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to list checks by author: %w", err)
	}
	defer rows.Close()

	checks := []*model.TranscriptionCheck{}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// compile-time interface check
var _ CheckRepository = (*PostgresCheckRepo)(nil)
