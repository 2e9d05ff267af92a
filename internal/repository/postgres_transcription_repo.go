package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/blossom/internal/model"
)

// PostgresTranscriptionRepo はPostgreSQLを使用した書き起こしリポジトリ。
type PostgresTranscriptionRepo struct {
	db *sql.DB
}

// NewPostgresTranscriptionRepo はPostgresTranscriptionRepoを生成する。
func NewPostgresTranscriptionRepo(db *sql.DB) *PostgresTranscriptionRepo {
	return &PostgresTranscriptionRepo{db: db}
}

const transcriptionColumns = `id, submission_id, author_id, source, original_id, url, text, ocr_text,
	posted_externally, removed_from_reddit, create_time`

func scanTranscription(row rowScanner) (*model.Transcription, error) {
	t := &model.Transcription{}
	var originalID, url, ocrText sql.NullString
	err := row.Scan(&t.ID, &t.SubmissionID, &t.AuthorID, &t.Source, &originalID, &url, &t.Text, &ocrText,
		&t.PostedExternally, &t.RemovedFromReddit, &t.CreateTime)
	if err != nil {
		return nil, err
	}
	t.OriginalID = nullStringValue(originalID)
	t.URL = nullStringValue(url)
	t.OCRText = nullStringValue(ocrText)
	return t, nil
}

func (r *PostgresTranscriptionRepo) findOne(ctx context.Context, query string, args ...any) (*model.Transcription, error) {
	t, err := scanTranscription(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transcription: %w", err)
	}
	return t, nil
}

// FindByID は指定IDの書き起こしを取得する。見つからない場合はnilを返す。
func (r *PostgresTranscriptionRepo) FindByID(ctx context.Context, id int64) (*model.Transcription, error) {
	return r.findOne(ctx, `SELECT `+transcriptionColumns+` FROM transcriptions WHERE id = $1`, id)
}

// FindByURL は書き起こしのURLで検索する。見つからない場合はnilを返す。
func (r *PostgresTranscriptionRepo) FindByURL(ctx context.Context, url string) (*model.Transcription, error) {
	return r.findOne(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE url = $1 ORDER BY id DESC LIMIT 1`, url)
}

// FindBySubmissionAndAuthor は指定投稿に対する指定ユーザーの最新の書き起こしを返す。
func (r *PostgresTranscriptionRepo) FindBySubmissionAndAuthor(ctx context.Context, submissionID, authorID int64) (*model.Transcription, error) {
	return r.findOne(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions
		 WHERE submission_id = $1 AND author_id = $2
		 ORDER BY create_time DESC, id DESC LIMIT 1`,
		submissionID, authorID)
}

// ListByOriginalID は外部IDで書き起こしを検索する。
func (r *PostgresTranscriptionRepo) ListByOriginalID(ctx context.Context, originalID string) ([]*model.Transcription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE original_id = $1 ORDER BY id`, originalID)
	if err != nil {
		return nil, fmt.Errorf("failed to search transcriptions: %w", err)
	}
	defer rows.Close()

	ts := []*model.Transcription{}
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		ts = append(ts, t)
	}
	return ts, rows.Err()
}

// Create は書き起こしを作成し、採番されたIDを設定する。
func (r *PostgresTranscriptionRepo) Create(ctx context.Context, t *model.Transcription) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO transcriptions (submission_id, author_id, source, original_id, url, text, ocr_text,
		                             posted_externally, removed_from_reddit, create_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		t.SubmissionID, t.AuthorID, t.Source, nullString(t.OriginalID), nullString(t.URL), t.Text,
		nullString(t.OCRText), t.PostedExternally, t.RemovedFromReddit, t.CreateTime,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transcription: %w", err)
	}
	return nil
}

// MarkPosted は書き起こしを外部投稿済みにし、外部IDとURLを保存する。
func (r *PostgresTranscriptionRepo) MarkPosted(ctx context.Context, id int64, originalID, url string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transcriptions SET original_id = $2, url = $3, posted_externally = TRUE WHERE id = $1`,
		id, originalID, url)
	if err != nil {
		return false, fmt.Errorf("failed to mark transcription posted: %w", err)
	}
	return rowsAffected(result)
}

// CountByAuthor は指定ユーザーが作成した書き起こし数（gamma）を返す。
func (r *PostgresTranscriptionRepo) CountByAuthor(ctx context.Context, authorID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcriptions WHERE author_id = $1`, authorID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcriptions: %w", err)
	}
	return count, nil
}

// CountByAuthorUpTo は指定書き起こし以前に作成された書き起こし数を返す。
func (r *PostgresTranscriptionRepo) CountByAuthorUpTo(ctx context.Context, authorID, transcriptionID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcriptions WHERE author_id = $1 AND id <= $2`, authorID, transcriptionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcriptions: %w", err)
	}
	return count, nil
}

// CountAll はbot以外のユーザーによる書き起こし総数を返す。
func (r *PostgresTranscriptionRepo) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcriptions t JOIN users u ON u.id = t.author_id WHERE u.is_bot = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcriptions: %w", err)
	}
	return count, nil
}

// LatestTime は指定ユーザーの最新の書き起こし時刻を返す。存在しない場合はnilを返す。
func (r *PostgresTranscriptionRepo) LatestTime(ctx context.Context, authorID int64) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(create_time) FROM transcriptions WHERE author_id = $1`, authorID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest transcription time: %w", err)
	}
	return nullTimePtr(latest), nil
}

// PreviousTranscriptionTime はexcludeID以外で最新の書き起こし時刻を返す。存在しない場合はnilを返す。
func (r *PostgresTranscriptionRepo) PreviousTranscriptionTime(ctx context.Context, authorID, excludeID int64) (*time.Time, error) {
	var prev sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(create_time) FROM transcriptions WHERE author_id = $1 AND id <> $2`, authorID, excludeID,
	).Scan(&prev)
	if err != nil {
		return nil, fmt.Errorf("failed to get previous transcription time: %w", err)
	}
	return nullTimePtr(prev), nil
}

// compile-time interface check
var _ TranscriptionRepository = (*PostgresTranscriptionRepo)(nil)
