// Package testutil はテスト用のインメモリリポジトリ実装を提供する。
// PostgreSQL実装と同じ意味論（条件付き更新、重複時の挙動、nil返却）を持つ。
package testutil

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/repository"
)

// MemStore は全リポジトリインターフェースのインメモリ実装をまとめたもの。
type MemStore struct {
	mu sync.Mutex

	users          map[int64]*model.User
	sources        map[string]*model.Source
	submissions    map[int64]*model.Submission
	transcriptions map[int64]*model.Transcription
	checks         map[int64]*model.TranscriptionCheck
	migrations     map[int64]*model.AccountMigration
	migrationItems map[int64][]model.MigrationItem

	nextID int64

	Users          *MemUserRepo
	Sources        *MemSourceRepo
	Submissions    *MemSubmissionRepo
	Transcriptions *MemTranscriptionRepo
	Checks         *MemCheckRepo
	Migrations     *MemMigrationRepo
}

// NewMemStore は空のMemStoreを生成する。
func NewMemStore() *MemStore {
	s := &MemStore{
		users:          make(map[int64]*model.User),
		sources:        make(map[string]*model.Source),
		submissions:    make(map[int64]*model.Submission),
		transcriptions: make(map[int64]*model.Transcription),
		checks:         make(map[int64]*model.TranscriptionCheck),
		migrations:     make(map[int64]*model.AccountMigration),
		migrationItems: make(map[int64][]model.MigrationItem),
	}
	s.Users = &MemUserRepo{s: s}
	s.Sources = &MemSourceRepo{s: s}
	s.Submissions = &MemSubmissionRepo{s: s}
	s.Transcriptions = &MemTranscriptionRepo{s: s}
	s.Checks = &MemCheckRepo{s: s}
	s.Migrations = &MemMigrationRepo{s: s}
	return s
}

func (s *MemStore) id() int64 {
	s.nextID++
	return s.nextID
}

// --- テストデータ投入用ヘルパー ---

// AddUser はユーザーを追加してコピーを返す。
func (s *MemStore) AddUser(u model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.id()
	if u.DateJoined.IsZero() {
		u.DateJoined = time.Now()
	}
	s.users[u.ID] = &u
	c := u
	return &c
}

// AddSubmission は投稿を追加してコピーを返す。ソースは自動作成する。
func (s *MemStore) AddSubmission(sub model.Submission) *model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = s.id()
	if sub.CreateTime.IsZero() {
		sub.CreateTime = time.Now()
	}
	if sub.Source != "" {
		if _, ok := s.sources[sub.Source]; !ok {
			s.sources[sub.Source] = &model.Source{Name: sub.Source, CreatedAt: time.Now()}
		}
	}
	s.submissions[sub.ID] = &sub
	c := sub
	return &c
}

// AddTranscription は書き起こしを追加してコピーを返す。
func (s *MemStore) AddTranscription(t model.Transcription) *model.Transcription {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	if t.CreateTime.IsZero() {
		t.CreateTime = time.Now()
	}
	s.transcriptions[t.ID] = &t
	c := t
	return &c
}

// AddCheck はチェックを追加してコピーを返す。
func (s *MemStore) AddCheck(c model.TranscriptionCheck) *model.TranscriptionCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	if c.Status == "" {
		c.Status = model.CheckPending
	}
	s.checks[c.ID] = &c
	cp := c
	return &cp
}

// SubmissionsCompletedBy は指定ユーザーが完了した投稿IDを昇順で返す。
func (s *MemStore) SubmissionsCompletedBy(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, sub := range s.submissions {
		if sub.CompletedBy != nil && *sub.CompletedBy == userID {
			ids = append(ids, sub.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// CheckCount はチェックの件数を返す。
func (s *MemStore) CheckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checks)
}

func copyUser(u *model.User) *model.User {
	c := *u
	if u.OverwriteCheckPercentage != nil {
		v := *u.OverwriteCheckPercentage
		c.OverwriteCheckPercentage = &v
	}
	return &c
}

func copySubmission(sub *model.Submission) *model.Submission {
	c := *sub
	c.ClaimedBy = copyInt64(sub.ClaimedBy)
	c.CompletedBy = copyInt64(sub.CompletedBy)
	c.ClaimTime = copyTime(sub.ClaimTime)
	c.CompleteTime = copyTime(sub.CompleteTime)
	return &c
}

func copyCheck(ch *model.TranscriptionCheck) *model.TranscriptionCheck {
	c := *ch
	c.ModeratorID = copyInt64(ch.ModeratorID)
	c.ClaimTime = copyTime(ch.ClaimTime)
	c.CompleteTime = copyTime(ch.CompleteTime)
	return &c
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- UserRepository ---

// MemUserRepo はUserRepositoryのインメモリ実装。
type MemUserRepo struct{ s *MemStore }

func (r *MemUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (r *MemUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.findByUsernameLocked(username), nil
}

func (r *MemUserRepo) findByUsernameLocked(username string) *model.User {
	key := model.NormalizeUsername(username)
	for _, u := range r.s.users {
		if model.NormalizeUsername(u.Username) == key {
			return copyUser(u)
		}
	}
	return nil
}

func (r *MemUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.findByUsernameLocked(user.Username) != nil {
		return repository.ErrDuplicate
	}
	user.ID = r.s.id()
	r.s.users[user.ID] = copyUser(user)
	return nil
}

func (r *MemUserRepo) Update(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[user.ID]
	if !ok {
		return errNotFound("user")
	}
	updated := copyUser(user)
	updated.Username = existing.Username
	updated.DateJoined = existing.DateJoined
	r.s.users[user.ID] = updated
	return nil
}

func (r *MemUserRepo) ListWatched(_ context.Context) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var users []*model.User
	for _, u := range r.s.users {
		if u.OverwriteCheckPercentage != nil {
			users = append(users, copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	return users, nil
}

func (r *MemUserRepo) CountVolunteers(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, u := range r.s.users {
		if u.IsVolunteer && !u.IsBot {
			count++
		}
	}
	return count, nil
}

// --- SourceRepository ---

// MemSourceRepo はSourceRepositoryのインメモリ実装。
type MemSourceRepo struct{ s *MemStore }

func (r *MemSourceRepo) FindByName(_ context.Context, name string) (*model.Source, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if src, ok := r.s.sources[name]; ok {
		c := *src
		return &c, nil
	}
	return nil, nil
}

func (r *MemSourceRepo) Ensure(_ context.Context, name string) (*model.Source, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	src, ok := r.s.sources[name]
	if !ok {
		src = &model.Source{Name: name, CreatedAt: time.Now()}
		r.s.sources[name] = src
	}
	c := *src
	return &c, nil
}

// --- SubmissionRepository ---

// MemSubmissionRepo はSubmissionRepositoryのインメモリ実装。
type MemSubmissionRepo struct{ s *MemStore }

func (r *MemSubmissionRepo) FindByID(_ context.Context, id int64) (*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.submissions[id]; ok {
		return copySubmission(sub), nil
	}
	return nil, nil
}

func (r *MemSubmissionRepo) findFirst(match func(*model.Submission) bool) *model.Submission {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	subs := r.sortedLocked(match, func(a, b *model.Submission) bool { return a.ID < b.ID })
	if len(subs) == 0 {
		return nil
	}
	return subs[0]
}

func (r *MemSubmissionRepo) sortedLocked(match func(*model.Submission) bool, less func(a, b *model.Submission) bool) []*model.Submission {
	subs := []*model.Submission{}
	for _, sub := range r.s.submissions {
		if match(sub) {
			subs = append(subs, copySubmission(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return less(subs[i], subs[j]) })
	return subs
}

func (r *MemSubmissionRepo) FindByURL(_ context.Context, url string) (*model.Submission, error) {
	return r.findFirst(func(s *model.Submission) bool { return s.URL == url }), nil
}

func (r *MemSubmissionRepo) FindByTorURL(_ context.Context, torURL string) (*model.Submission, error) {
	return r.findFirst(func(s *model.Submission) bool { return s.TorURL == torURL }), nil
}

func (r *MemSubmissionRepo) List(_ context.Context, f model.SubmissionFilter) ([]*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	match := func(s *model.Submission) bool {
		return (f.OriginalID == "" || s.OriginalID == f.OriginalID) &&
			(f.Source == "" || s.Source == f.Source) &&
			(f.URL == "" || s.URL == f.URL) &&
			(f.TorURL == "" || s.TorURL == f.TorURL)
	}
	subs := r.sortedLocked(match, func(a, b *model.Submission) bool { return a.ID < b.ID })
	if f.Offset > 0 {
		if f.Offset >= len(subs) {
			return []*model.Submission{}, nil
		}
		subs = subs[f.Offset:]
	}
	if f.Limit > 0 && len(subs) > f.Limit {
		subs = subs[:f.Limit]
	}
	return subs, nil
}

func (r *MemSubmissionRepo) Create(_ context.Context, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.submissions {
		if existing.OriginalID == sub.OriginalID && existing.Source == sub.Source {
			return repository.ErrDuplicate
		}
	}
	if _, ok := r.s.sources[sub.Source]; !ok {
		return errNotFound("source")
	}
	sub.ID = r.s.id()
	r.s.submissions[sub.ID] = copySubmission(sub)
	return nil
}

func (r *MemSubmissionRepo) Claim(_ context.Context, id, userID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok || sub.ClaimedBy != nil {
		return false, nil
	}
	sub.ClaimedBy = &userID
	sub.ClaimTime = &at
	return true, nil
}

func (r *MemSubmissionRepo) Unclaim(_ context.Context, id, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok || sub.ClaimedBy == nil || *sub.ClaimedBy != userID || sub.CompletedBy != nil {
		return false, nil
	}
	sub.ClaimedBy = nil
	sub.ClaimTime = nil
	return true, nil
}

func (r *MemSubmissionRepo) Complete(_ context.Context, p repository.CompleteParams) (*repository.CompleteResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[p.SubmissionID]
	if !ok || sub.ClaimedBy == nil || *sub.ClaimedBy != p.ExpectedClaimedBy || sub.CompletedBy != nil {
		return &repository.CompleteResult{Completed: false}, nil
	}
	completedBy := p.CompletedBy
	at := p.At
	sub.CompletedBy = &completedBy
	sub.CompleteTime = &at

	res := &repository.CompleteResult{Completed: true}
	if p.Check != nil {
		res.Check, res.CheckCreated = r.s.Checks.createLocked(p.Check)
	}
	return res, nil
}

func (r *MemSubmissionRepo) ExpiredQueue(_ context.Context, source string, cutoff time.Time) ([]*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sortedLocked(func(s *model.Submission) bool {
		return s.ClaimedBy == nil && !s.RemovedFromQueue && !s.Archived &&
			!s.CreateTime.After(cutoff) && (source == "" || s.Source == source)
	}, func(a, b *model.Submission) bool { return a.CreateTime.Before(b.CreateTime) }), nil
}

func (r *MemSubmissionRepo) UnarchivedCompleted(_ context.Context, source string, cutoff time.Time) ([]*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sortedLocked(func(s *model.Submission) bool {
		return s.CompletedBy != nil && !s.Archived && s.CompleteTime != nil &&
			!s.CompleteTime.After(cutoff) && (source == "" || s.Source == source)
	}, func(a, b *model.Submission) bool { return a.CompleteTime.Before(*b.CompleteTime) }), nil
}

func (r *MemSubmissionRepo) OCRQueue(_ context.Context, source string, ocrUserID int64, limit int) ([]*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pending := map[int64]bool{}
	for _, t := range r.s.transcriptions {
		if t.AuthorID == ocrUserID && !t.PostedExternally {
			pending[t.SubmissionID] = true
		}
	}
	subs := r.sortedLocked(func(s *model.Submission) bool {
		return pending[s.ID] && !s.RemovedFromQueue && !s.CannotOCR && (source == "" || s.Source == source)
	}, func(a, b *model.Submission) bool { return a.CreateTime.Before(b.CreateTime) })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (r *MemSubmissionRepo) SetReport(_ context.Context, id int64, reason string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok || sub.ReportReason != "" {
		return false, nil
	}
	sub.ReportReason = reason
	return true, nil
}

func (r *MemSubmissionRepo) SetReportMessage(_ context.Context, id int64, channelID, messageTS string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.submissions[id]; ok {
		sub.ReportChannelID = channelID
		sub.ReportMessageTS = messageTS
	}
	return nil
}

func (r *MemSubmissionRepo) SetModeration(_ context.Context, id int64, approved, removed bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.submissions[id]; ok {
		sub.Approved = approved
		sub.RemovedFromQueue = removed
	}
	return nil
}

func (r *MemSubmissionRepo) SetCannotOCR(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.submissions[id]; ok {
		sub.CannotOCR = true
	}
	return nil
}

// --- TranscriptionRepository ---

// MemTranscriptionRepo はTranscriptionRepositoryのインメモリ実装。
type MemTranscriptionRepo struct{ s *MemStore }

func (r *MemTranscriptionRepo) FindByID(_ context.Context, id int64) (*model.Transcription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.transcriptions[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (r *MemTranscriptionRepo) latest(match func(*model.Transcription) bool) *model.Transcription {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *model.Transcription
	for _, t := range r.s.transcriptions {
		if !match(t) {
			continue
		}
		if best == nil || t.CreateTime.After(best.CreateTime) ||
			(t.CreateTime.Equal(best.CreateTime) && t.ID > best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	c := *best
	return &c
}

func (r *MemTranscriptionRepo) FindByURL(_ context.Context, url string) (*model.Transcription, error) {
	return r.latest(func(t *model.Transcription) bool { return t.URL == url }), nil
}

func (r *MemTranscriptionRepo) FindBySubmissionAndAuthor(_ context.Context, submissionID, authorID int64) (*model.Transcription, error) {
	return r.latest(func(t *model.Transcription) bool {
		return t.SubmissionID == submissionID && t.AuthorID == authorID
	}), nil
}

func (r *MemTranscriptionRepo) ListByOriginalID(_ context.Context, originalID string) ([]*model.Transcription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ts := []*model.Transcription{}
	for _, t := range r.s.transcriptions {
		if t.OriginalID == originalID {
			c := *t
			ts = append(ts, &c)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
	return ts, nil
}

func (r *MemTranscriptionRepo) Create(_ context.Context, t *model.Transcription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.submissions[t.SubmissionID]; !ok {
		return errNotFound("submission")
	}
	t.ID = r.s.id()
	c := *t
	r.s.transcriptions[t.ID] = &c
	return nil
}

func (r *MemTranscriptionRepo) MarkPosted(_ context.Context, id int64, originalID, url string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transcriptions[id]
	if !ok {
		return false, nil
	}
	t.OriginalID = originalID
	t.URL = url
	t.PostedExternally = true
	return true, nil
}

func (r *MemTranscriptionRepo) count(match func(*model.Transcription) bool) int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, t := range r.s.transcriptions {
		if match(t) {
			n++
		}
	}
	return n
}

func (r *MemTranscriptionRepo) CountByAuthor(_ context.Context, authorID int64) (int, error) {
	return r.count(func(t *model.Transcription) bool { return t.AuthorID == authorID }), nil
}

func (r *MemTranscriptionRepo) CountByAuthorUpTo(_ context.Context, authorID, transcriptionID int64) (int, error) {
	return r.count(func(t *model.Transcription) bool {
		return t.AuthorID == authorID && t.ID <= transcriptionID
	}), nil
}

func (r *MemTranscriptionRepo) CountAll(_ context.Context) (int, error) {
	r.s.mu.Lock()
	bots := map[int64]bool{}
	for _, u := range r.s.users {
		if u.IsBot {
			bots[u.ID] = true
		}
	}
	r.s.mu.Unlock()
	return r.count(func(t *model.Transcription) bool { return !bots[t.AuthorID] }), nil
}

func (r *MemTranscriptionRepo) LatestTime(_ context.Context, authorID int64) (*time.Time, error) {
	t := r.latest(func(t *model.Transcription) bool { return t.AuthorID == authorID })
	if t == nil {
		return nil, nil
	}
	return &t.CreateTime, nil
}

func (r *MemTranscriptionRepo) PreviousTranscriptionTime(_ context.Context, authorID, excludeID int64) (*time.Time, error) {
	t := r.latest(func(t *model.Transcription) bool { return t.AuthorID == authorID && t.ID != excludeID })
	if t == nil {
		return nil, nil
	}
	return &t.CreateTime, nil
}

// --- CheckRepository ---

// MemCheckRepo はCheckRepositoryのインメモリ実装。
type MemCheckRepo struct{ s *MemStore }

func (r *MemCheckRepo) FindByID(_ context.Context, id int64) (*model.TranscriptionCheck, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.checks[id]; ok {
		return copyCheck(c), nil
	}
	return nil, nil
}

func (r *MemCheckRepo) FindByTranscriptionID(_ context.Context, transcriptionID int64) (*model.TranscriptionCheck, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.checks {
		if c.TranscriptionID == transcriptionID {
			return copyCheck(c), nil
		}
	}
	return nil, nil
}

func (r *MemCheckRepo) Create(_ context.Context, check *model.TranscriptionCheck) (*model.TranscriptionCheck, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, created := r.createLocked(check)
	return c, created, nil
}

func (r *MemCheckRepo) createLocked(check *model.TranscriptionCheck) (*model.TranscriptionCheck, bool) {
	for _, c := range r.s.checks {
		if c.TranscriptionID == check.TranscriptionID {
			return copyCheck(c), false
		}
	}
	c := copyCheck(check)
	c.ID = r.s.id()
	if c.Status == "" {
		c.Status = model.CheckPending
	}
	r.s.checks[c.ID] = c
	return copyCheck(c), true
}

func (r *MemCheckRepo) Transition(_ context.Context, p repository.CheckTransition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.checks[p.ID]
	if !ok || c.Status != p.FromStatus || !int64PtrEqual(c.ModeratorID, p.FromModerator) {
		return false, nil
	}
	c.Status = p.ToStatus
	c.ModeratorID = copyInt64(p.ToModerator)
	c.ClaimTime = copyTime(p.ClaimTime)
	c.CompleteTime = copyTime(p.CompleteTime)
	return true, nil
}

func (r *MemCheckRepo) SetMessage(_ context.Context, id int64, channelID, messageTS string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.checks[id]; ok {
		c.SlackChannelID = channelID
		c.SlackMessageTS = messageTS
	}
	return nil
}

func (r *MemCheckRepo) ListByAuthor(_ context.Context, authorID int64, statuses []model.CheckStatus) ([]*model.TranscriptionCheck, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	checks := []*model.TranscriptionCheck{}
	for _, c := range r.s.checks {
		t, ok := r.s.transcriptions[c.TranscriptionID]
		if !ok || t.AuthorID != authorID || !slices.Contains(statuses, c.Status) {
			continue
		}
		checks = append(checks, copyCheck(c))
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].ID > checks[j].ID })
	return checks, nil
}

// --- MigrationRepository ---

// MemMigrationRepo はMigrationRepositoryのインメモリ実装。
type MemMigrationRepo struct{ s *MemStore }

func (r *MemMigrationRepo) FindByID(_ context.Context, id int64) (*model.AccountMigration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.migrations[id]; ok {
		c := *m
		c.ModeratorID = copyInt64(m.ModeratorID)
		return &c, nil
	}
	return nil, nil
}

func (r *MemMigrationRepo) Create(_ context.Context, m *model.AccountMigration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = r.s.id()
	m.Status = model.MigrationPending
	c := *m
	r.s.migrations[m.ID] = &c
	return nil
}

func (r *MemMigrationRepo) SetMessage(_ context.Context, id int64, channelID, messageTS string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.migrations[id]; ok {
		m.SlackChannelID = channelID
		m.SlackMessageTS = messageTS
	}
	return nil
}

func (r *MemMigrationRepo) Approve(_ context.Context, id, moderatorID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.migrations[id]
	if !ok || m.Status != model.MigrationPending {
		return false, nil
	}
	for _, c := range r.s.checks {
		if c.ModeratorID == nil || *c.ModeratorID != m.NewUserID {
			continue
		}
		if t, ok := r.s.transcriptions[c.TranscriptionID]; ok && t.AuthorID == m.OldUserID {
			return false, repository.ErrMigrationSelfReview
		}
	}
	m.Status = model.MigrationApproved
	m.ModeratorID = &moderatorID

	var items []model.MigrationItem
	newID := m.NewUserID
	for _, sub := range r.s.submissions {
		if sub.ClaimedBy != nil && *sub.ClaimedBy == m.OldUserID {
			items = append(items, model.MigrationItem{MigrationID: id, Entity: "submission", EntityID: sub.ID, Field: model.MigrationFieldClaimedBy})
			sub.ClaimedBy = copyInt64(&newID)
		}
		if sub.CompletedBy != nil && *sub.CompletedBy == m.OldUserID {
			items = append(items, model.MigrationItem{MigrationID: id, Entity: "submission", EntityID: sub.ID, Field: model.MigrationFieldCompletedBy})
			sub.CompletedBy = copyInt64(&newID)
		}
	}
	for _, t := range r.s.transcriptions {
		if t.AuthorID == m.OldUserID {
			items = append(items, model.MigrationItem{MigrationID: id, Entity: "transcription", EntityID: t.ID, Field: model.MigrationFieldAuthor})
			t.AuthorID = newID
		}
	}
	r.s.migrationItems[id] = items
	return true, nil
}

func (r *MemMigrationRepo) Revert(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.migrations[id]
	if !ok || m.Status != model.MigrationApproved {
		return false, nil
	}
	m.Status = model.MigrationReverted
	oldID := m.OldUserID
	for _, item := range r.s.migrationItems[id] {
		switch item.Field {
		case model.MigrationFieldClaimedBy:
			if sub, ok := r.s.submissions[item.EntityID]; ok {
				sub.ClaimedBy = copyInt64(&oldID)
			}
		case model.MigrationFieldCompletedBy:
			if sub, ok := r.s.submissions[item.EntityID]; ok {
				sub.CompletedBy = copyInt64(&oldID)
			}
		case model.MigrationFieldAuthor:
			if t, ok := r.s.transcriptions[item.EntityID]; ok {
				t.AuthorID = oldID
			}
		}
	}
	delete(r.s.migrationItems, id)
	return true, nil
}

func (r *MemMigrationRepo) Cancel(_ context.Context, id, moderatorID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.migrations[id]
	if !ok || m.Status != model.MigrationPending {
		return false, nil
	}
	m.Status = model.MigrationCancelled
	m.ModeratorID = &moderatorID
	return true, nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) + " not found" }

func errNotFound(entity string) error { return notFoundError(entity) }

// compile-time interface checks
var (
	_ repository.UserRepository          = (*MemUserRepo)(nil)
	_ repository.SourceRepository        = (*MemSourceRepo)(nil)
	_ repository.SubmissionRepository    = (*MemSubmissionRepo)(nil)
	_ repository.TranscriptionRepository = (*MemTranscriptionRepo)(nil)
	_ repository.CheckRepository         = (*MemCheckRepo)(nil)
	_ repository.MigrationRepository     = (*MemMigrationRepo)(nil)
)
