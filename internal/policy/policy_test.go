package policy

import (
	"errors"
	"testing"

	"github.com/hitoshi/blossom/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

// --- CheckProbability テスト ---

func TestCheckProbability_Bands(t *testing.T) {
	tests := []struct {
		gamma int
		want  float64
	}{
		{0, 0.8},
		{50, 0.8},
		{51, 0.7},
		{100, 0.7},
		{101, 0.6},
		{250, 0.6},
		{251, 0.5},
		{500, 0.5},
		{501, 0.3},
		{1000, 0.3},
		{1001, 0.1},
		{5000, 0.1},
		{5001, 0.05},
		{100000, 0.05},
	}
	for _, tt := range tests {
		if got := CheckProbability(tt.gamma); got != tt.want {
			t.Errorf("CheckProbability(%d) = %v, want %v", tt.gamma, got, tt.want)
		}
	}
}

// --- RankOf テスト ---

func TestRankOf_Bands(t *testing.T) {
	tests := []struct {
		gamma int
		want  string
	}{
		{0, "Visitor"},
		{1, "Initiate"},
		{50, "Initiate"},
		{51, "Green"},
		{100, "Green"},
		{101, "Teal"},
		{251, "Purple"},
		{501, "Gold"},
		{1001, "Diamond"},
		{2501, "Ruby"},
		{5001, "Topaz"},
		{10000, "Topaz"},
		{10001, "Jade"},
	}
	for _, tt := range tests {
		if got := RankOf(tt.gamma); got != tt.want {
			t.Errorf("RankOf(%d) = %q, want %q", tt.gamma, got, tt.want)
		}
	}
}

func TestRankOf_Monotone(t *testing.T) {
	index := map[string]int{}
	for i, r := range ranks {
		index[r.Name] = i
	}
	prev := 0
	for g := 0; g <= 12000; g++ {
		cur := index[RankOf(g)]
		if cur < prev {
			t.Fatalf("rank decreased at gamma=%d", g)
		}
		prev = cur
	}
}

func TestIsRankUp(t *testing.T) {
	if !IsRankUp(51) {
		t.Error("gamma 51 should be a rank-up (Initiate -> Green)")
	}
	if IsRankUp(52) {
		t.Error("gamma 52 should not be a rank-up")
	}
	if !IsRankUp(1) {
		t.Error("gamma 1 should be a rank-up (Visitor -> Initiate)")
	}
	if IsRankUp(0) {
		t.Error("gamma 0 should never be a rank-up")
	}
}

// --- CanClaim テスト ---

func TestCanClaim(t *testing.T) {
	alice := &model.User{ID: 1, Username: "alice", AcceptedCoC: true}
	tests := []struct {
		name       string
		user       *model.User
		sub        *model.Submission
		wantCode   string
		wantReason string
	}{
		{"ok", alice, &model.Submission{ID: 1}, "", ""},
		{"blocked", &model.User{ID: 2, IsBlocked: true}, &model.Submission{ID: 1}, model.ErrCodeLocked, "BLOCKED"},
		{"coc", &model.User{ID: 3}, &model.Submission{ID: 1}, model.ErrCodeForbidden, "COC_NOT_ACCEPTED"},
		{"already claimed", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1)}, model.ErrCodeConflict, "ALREADY_CLAIMED"},
		{"blocked before coc", &model.User{ID: 4, IsBlocked: true}, &model.Submission{ID: 1, ClaimedBy: int64Ptr(9)}, model.ErrCodeLocked, "BLOCKED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertPolicyResult(t, CanClaim(tt.user, tt.sub), tt.wantCode, tt.wantReason)
		})
	}
}

// --- CanDone テスト ---

func TestCanDone(t *testing.T) {
	alice := &model.User{ID: 1, Username: "alice", AcceptedCoC: true}
	mod := &model.User{ID: 5, Username: "mod", AcceptedCoC: true, IsStaff: true}
	plain := &model.User{ID: 6, Username: "plain", AcceptedCoC: true}

	tests := []struct {
		name        string
		user        *model.User
		sub         *model.Submission
		modOverride bool
		requester   *model.User
		wantCode    string
	}{
		{"ok", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1)}, false, nil, ""},
		{"blocked", &model.User{ID: 2, IsBlocked: true, AcceptedCoC: true}, &model.Submission{ID: 1}, false, nil, model.ErrCodeLocked},
		{"coc", &model.User{ID: 3}, &model.Submission{ID: 1}, false, nil, model.ErrCodeForbidden},
		{"completed", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1), CompletedBy: int64Ptr(1)}, false, nil, model.ErrCodeConflict},
		{"unclaimed", alice, &model.Submission{ID: 1}, false, nil, model.ErrCodePreconditionFailed},
		{"other claimant", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(7)}, false, nil, model.ErrCodePreconditionFailed},
		{"override by staff", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(7)}, true, mod, ""},
		{"override by non-staff", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(7)}, true, plain, model.ErrCodePreconditionFailed},
		{"override without requester", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(7)}, true, nil, model.ErrCodePreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertPolicyResult(t, CanDone(tt.user, tt.sub, tt.modOverride, tt.requester), tt.wantCode, "")
		})
	}
}

// --- CanUnclaim テスト ---

func TestCanUnclaim(t *testing.T) {
	alice := &model.User{ID: 1, Username: "alice", AcceptedCoC: true}
	tests := []struct {
		name     string
		user     *model.User
		sub      *model.Submission
		wantCode string
	}{
		{"ok", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1)}, ""},
		{"blocked", &model.User{ID: 1, IsBlocked: true}, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1)}, model.ErrCodeLocked},
		{"unclaimed", alice, &model.Submission{ID: 1}, model.ErrCodePreconditionFailed},
		{"wrong user", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(2)}, model.ErrCodeNotAcceptable},
		{"completed", alice, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1), CompletedBy: int64Ptr(1)}, model.ErrCodeConflict},
		// 担当解除はCoC同意を要求しない
		{"no coc", &model.User{ID: 1}, &model.Submission{ID: 1, ClaimedBy: int64Ptr(1)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertPolicyResult(t, CanUnclaim(tt.user, tt.sub), tt.wantCode, "")
		})
	}
}

func TestIsSelfReview(t *testing.T) {
	mod := &model.User{ID: 5}
	if !IsSelfReview(mod, &model.Transcription{AuthorID: 5}) {
		t.Error("expected self review")
	}
	if IsSelfReview(mod, &model.Transcription{AuthorID: 6}) {
		t.Error("expected not self review")
	}
}

func assertPolicyResult(t *testing.T, err error, wantCode, wantReason string) {
	t.Helper()
	if wantCode == "" {
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		return
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("Code = %q, want %q", apiErr.Code, wantCode)
	}
	if wantReason != "" && apiErr.Reason != wantReason {
		t.Errorf("Reason = %q, want %q", apiErr.Reason, wantReason)
	}
}
