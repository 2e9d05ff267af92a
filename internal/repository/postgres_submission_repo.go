package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/blossom/internal/model"
)

// PostgresSubmissionRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresSubmissionRepo struct {
	db *sql.DB
}

// NewPostgresSubmissionRepo はPostgresSubmissionRepoを生成する。
func NewPostgresSubmissionRepo(db *sql.DB) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

const submissionColumns = `s.id, s.original_id, s.source, s.url, s.tor_url, s.content_url, s.title, s.nsfw,
	s.claimed_by, s.completed_by, s.create_time, s.claim_time, s.complete_time,
	s.archived, s.removed_from_queue, s.approved, s.cannot_ocr,
	s.report_reason, s.report_slack_channel_id, s.report_slack_message_ts`

func scanSubmission(row rowScanner) (*model.Submission, error) {
	s := &model.Submission{}
	var (
		url, torURL, contentURL, title       sql.NullString
		reportReason, reportChannel, reportTS sql.NullString
		claimedBy, completedBy                sql.NullInt64
		claimTime, completeTime               sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OriginalID, &s.Source, &url, &torURL, &contentURL, &title, &s.NSFW,
		&claimedBy, &completedBy, &s.CreateTime, &claimTime, &completeTime,
		&s.Archived, &s.RemovedFromQueue, &s.Approved, &s.CannotOCR,
		&reportReason, &reportChannel, &reportTS)
	if err != nil {
		return nil, err
	}
	s.URL = nullStringValue(url)
	s.TorURL = nullStringValue(torURL)
	s.ContentURL = nullStringValue(contentURL)
	s.Title = nullStringValue(title)
	s.ClaimedBy = nullInt64Ptr(claimedBy)
	s.CompletedBy = nullInt64Ptr(completedBy)
	s.ClaimTime = nullTimePtr(claimTime)
	s.CompleteTime = nullTimePtr(completeTime)
	s.ReportReason = nullStringValue(reportReason)
	s.ReportChannelID = nullStringValue(reportChannel)
	s.ReportMessageTS = nullStringValue(reportTS)
	return s, nil
}

func (r *PostgresSubmissionRepo) findOne(ctx context.Context, where string, arg any) (*model.Submission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions s WHERE `+where+` ORDER BY s.id LIMIT 1`, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	return s, nil
}

func (r *PostgresSubmissionRepo) list(ctx context.Context, query string, args ...any) ([]*model.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	subs := []*model.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresSubmissionRepo) FindByID(ctx context.Context, id int64) (*model.Submission, error) {
	return r.findOne(ctx, `s.id = $1`, id)
}

// FindByURL はpartner URLで投稿を検索する。見つからない場合はnilを返す。
func (r *PostgresSubmissionRepo) FindByURL(ctx context.Context, url string) (*model.Submission, error) {
	return r.findOne(ctx, `s.url = $1`, url)
}

// FindByTorURL はToR URLで投稿を検索する。見つからない場合はnilを返す。
func (r *PostgresSubmissionRepo) FindByTorURL(ctx context.Context, torURL string) (*model.Submission, error) {
	return r.findOne(ctx, `s.tor_url = $1`, torURL)
}

// List は条件に一致する投稿をID順に返す。
func (r *PostgresSubmissionRepo) List(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("s.%s = $%d", col, len(args)))
	}
	add("original_id", filter.OriginalID)
	add("source", filter.Source)
	add("url", filter.URL)
	add("tor_url", filter.TorURL)

	query := `SELECT ` + submissionColumns + ` FROM submissions s`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY s.id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.list(ctx, query, args...)
}

// Create は投稿を作成し、採番されたIDを設定する。
func (r *PostgresSubmissionRepo) Create(ctx context.Context, sub *model.Submission) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO submissions (original_id, source, url, tor_url, content_url, title, nsfw,
		                          create_time, cannot_ocr)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		sub.OriginalID, sub.Source, nullString(sub.URL), nullString(sub.TorURL), nullString(sub.ContentURL),
		nullString(sub.Title), sub.NSFW, sub.CreateTime, sub.CannotOCR,
	).Scan(&sub.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// Claim は未担当の投稿を指定ユーザーの担当にする。
func (r *PostgresSubmissionRepo) Claim(ctx context.Context, id, userID int64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET claimed_by = $2, claim_time = $3
		 WHERE id = $1 AND claimed_by IS NULL`,
		id, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim submission: %w", err)
	}
	return rowsAffected(result)
}

// Unclaim は指定ユーザーが担当中かつ未完了の投稿を未担当に戻す。
func (r *PostgresSubmissionRepo) Unclaim(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET claimed_by = NULL, claim_time = NULL
		 WHERE id = $1 AND claimed_by = $2 AND completed_by IS NULL`,
		id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to unclaim submission: %w", err)
	}
	return rowsAffected(result)
}

// Complete は投稿を完了状態にし、チェックの下書きがあれば同一トランザクションで作成する。
func (r *PostgresSubmissionRepo) Complete(ctx context.Context, params CompleteParams) (*CompleteResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE submissions SET completed_by = $3, complete_time = $4
		 WHERE id = $1 AND claimed_by = $2 AND completed_by IS NULL`,
		params.SubmissionID, params.ExpectedClaimedBy, params.CompletedBy, params.At)
	if err != nil {
		return nil, fmt.Errorf("failed to complete submission: %w", err)
	}
	ok, err := rowsAffected(result)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if !ok {
		return &CompleteResult{Completed: false}, nil
	}

	res := &CompleteResult{Completed: true}
	if params.Check != nil {
		check, created, err := insertCheck(ctx, tx, params.Check)
		if err != nil {
			return nil, err
		}
		res.Check = check
		res.CheckCreated = created
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

// ExpiredQueue は未担当・未削除・未アーカイブかつcutoffより前に作成された投稿を返す。
func (r *PostgresSubmissionRepo) ExpiredQueue(ctx context.Context, source string, cutoff time.Time) ([]*model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions s
		 WHERE s.claimed_by IS NULL AND s.removed_from_queue = FALSE AND s.archived = FALSE
		   AND s.create_time <= $1 AND ($2::text = '' OR s.source = $2::text)
		 ORDER BY s.create_time`,
		cutoff, source)
}

// UnarchivedCompleted は完了済み・未アーカイブかつcutoffより前に完了した投稿を返す。
func (r *PostgresSubmissionRepo) UnarchivedCompleted(ctx context.Context, source string, cutoff time.Time) ([]*model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions s
		 WHERE s.completed_by IS NOT NULL AND s.archived = FALSE
		   AND s.complete_time <= $1 AND ($2::text = '' OR s.source = $2::text)
		 ORDER BY s.complete_time`,
		cutoff, source)
}

// OCRQueue はOCRユーザーによる未投稿の書き起こしを持つ投稿を返す。
func (r *PostgresSubmissionRepo) OCRQueue(ctx context.Context, source string, ocrUserID int64, limit int) ([]*model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions s
		 WHERE s.removed_from_queue = FALSE AND s.cannot_ocr = FALSE
		   AND ($1::text = '' OR s.source = $1::text)
		   AND EXISTS (
		       SELECT 1 FROM transcriptions t
		       WHERE t.submission_id = s.id AND t.author_id = $2 AND t.posted_externally = FALSE
		   )
		 ORDER BY s.create_time
		 LIMIT $3`,
		source, ocrUserID, limit)
}

// SetReport はレポート理由を記録する。既にレポート済みの場合はfalseを返す。
func (r *PostgresSubmissionRepo) SetReport(ctx context.Context, id int64, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET report_reason = $2 WHERE id = $1 AND report_reason IS NULL`,
		id, reason)
	if err != nil {
		return false, fmt.Errorf("failed to set report reason: %w", err)
	}
	return rowsAffected(result)
}

// SetReportMessage はレポートメッセージのチャット座標を保存する。
func (r *PostgresSubmissionRepo) SetReportMessage(ctx context.Context, id int64, channelID, messageTS string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET report_slack_channel_id = $2, report_slack_message_ts = $3 WHERE id = $1`,
		id, channelID, messageTS)
	if err != nil {
		return fmt.Errorf("failed to set report message: %w", err)
	}
	return nil
}

// SetModeration はレポートの対応結果（承認・削除）を保存する。
func (r *PostgresSubmissionRepo) SetModeration(ctx context.Context, id int64, approved, removed bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET approved = $2, removed_from_queue = $3 WHERE id = $1`,
		id, approved, removed)
	if err != nil {
		return fmt.Errorf("failed to set moderation state: %w", err)
	}
	return nil
}

// SetCannotOCR はOCR不可フラグを立てる。
func (r *PostgresSubmissionRepo) SetCannotOCR(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET cannot_ocr = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to set cannot_ocr: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SubmissionRepository = (*PostgresSubmissionRepo)(nil)
