package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})) {
		t.Error("wrapped 23505 should be a unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("23503 (foreign key) should not be a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error should not be a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil should not be a unique violation")
	}
}

func TestNullConversions_RoundTrip(t *testing.T) {
	if nullString("").Valid {
		t.Error("empty string should be NULL")
	}
	if got := nullStringValue(nullString("x")); got != "x" {
		t.Errorf("nullStringValue = %q, want x", got)
	}

	if nullInt64(nil).Valid {
		t.Error("nil int64 should be NULL")
	}
	id := int64(7)
	if got := nullInt64Ptr(nullInt64(&id)); got == nil || *got != 7 {
		t.Errorf("nullInt64Ptr = %v, want 7", got)
	}

	now := time.Now()
	if got := nullTimePtr(nullTime(&now)); got == nil || !got.Equal(now) {
		t.Errorf("nullTimePtr = %v, want %v", got, now)
	}
	if nullTimePtr(nullTime(nil)) != nil {
		t.Error("nil time should stay nil")
	}

	p := 0.25
	if got := nullFloat64Ptr(nullFloat64(&p)); got == nil || *got != 0.25 {
		t.Errorf("nullFloat64Ptr = %v, want 0.25", got)
	}
}

// 各Postgresリポジトリがインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = NewPostgresUserRepo(nil)
	var _ SourceRepository = NewPostgresSourceRepo(nil)
	var _ SubmissionRepository = NewPostgresSubmissionRepo(nil)
	var _ TranscriptionRepository = NewPostgresTranscriptionRepo(nil)
	var _ CheckRepository = NewPostgresCheckRepo(nil)
	var _ MigrationRepository = NewPostgresMigrationRepo(nil)
}
