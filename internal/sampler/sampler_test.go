package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/policy"
)

func float64Ptr(v float64) *float64 { return &v }

func fixedDraw(v float64) func() float64 {
	return func() float64 { return v }
}

func TestDecide_OverrideAlwaysAtOne(t *testing.T) {
	s := New(WithRand(fixedDraw(0.9999)))
	alice := &model.User{ID: 1, OverwriteCheckPercentage: float64Ptr(1)}

	for i := 0; i < 10; i++ {
		d, err := s.Decide(context.Background(), alice, &model.Transcription{ID: 1}, 6000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Sampled {
			t.Fatalf("run %d: expected sampled", i)
		}
		if d.Trigger != "Watched (100%)" {
			t.Errorf("Trigger = %q, want %q", d.Trigger, "Watched (100%)")
		}
	}
}

func TestDecide_OverrideTakesPrecedenceOverLowActivity(t *testing.T) {
	called := false
	s := New(
		WithRand(fixedDraw(0.5)),
		WithLowActivity(func(context.Context, *model.User, *model.Transcription) (bool, error) {
			called = true
			return true, nil
		}),
	)
	d, err := s.Decide(context.Background(), &model.User{OverwriteCheckPercentage: float64Ptr(0.25)}, &model.Transcription{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Sampled {
		t.Error("draw 0.5 with override 0.25 should not sample")
	}
	if d.Trigger != "Watched (25%)" {
		t.Errorf("Trigger = %q", d.Trigger)
	}
	if called {
		t.Error("low activity predicate must not run when an override is set")
	}
}

func TestDecide_LowActivityBranch(t *testing.T) {
	s := New(
		WithRand(fixedDraw(0.99)),
		WithLowActivity(func(context.Context, *model.User, *model.Transcription) (bool, error) {
			return true, nil
		}),
	)
	d, err := s.Decide(context.Background(), &model.User{}, &model.Transcription{}, 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Sampled || d.Trigger != TriggerLowActivity {
		t.Errorf("got %+v, want sampled with %q", d, TriggerLowActivity)
	}
}

func TestDecide_LowActivityError(t *testing.T) {
	s := New(WithLowActivity(func(context.Context, *model.User, *model.Transcription) (bool, error) {
		return false, errors.New("db down")
	}))
	if _, err := s.Decide(context.Background(), &model.User{}, &model.Transcription{}, 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecide_AutomaticTrigger(t *testing.T) {
	s := New(WithRand(fixedDraw(0.69)))
	d, err := s.Decide(context.Background(), &model.User{}, &model.Transcription{}, 51)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Sampled {
		t.Error("draw 0.69 < 0.7 should sample")
	}
	if d.Trigger != "Automatic (70%)" {
		t.Errorf("Trigger = %q", d.Trigger)
	}
}

// 1万回の試行で抽出率がCheckProbabilityまたは上書き値に一致することを確認する。
func TestDecide_StatisticalRate(t *testing.T) {
	const runs = 20000
	r := rand.New(rand.NewPCG(42, 1024))
	s := New(WithRand(r.Float64))

	cases := []struct {
		name  string
		user  *model.User
		gamma int
		want  float64
	}{
		{"gamma 10", &model.User{}, 10, policy.CheckProbability(10)},
		{"gamma 300", &model.User{}, 300, policy.CheckProbability(300)},
		{"gamma 8000", &model.User{}, 8000, policy.CheckProbability(8000)},
		{"override 0.4", &model.User{OverwriteCheckPercentage: float64Ptr(0.4)}, 10, 0.4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hits := 0
			for i := 0; i < runs; i++ {
				d, err := s.Decide(context.Background(), tc.user, &model.Transcription{}, tc.gamma)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if d.Sampled {
					hits++
				}
			}
			rate := float64(hits) / runs
			// 標準偏差の6倍程度の許容幅
			tolerance := 6 * math.Sqrt(tc.want*(1-tc.want)/runs)
			if math.Abs(rate-tc.want) > tolerance {
				t.Errorf("rate = %.4f, want %.4f ± %.4f", rate, tc.want, tolerance)
			}
		})
	}
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{1, "100"},
		{0.7, "70"},
		{0.05, "5"},
		{0.055, "5.5"},
		{0.1234, "12.3"},
	}
	for _, tt := range tests {
		if got := FormatPercentage(tt.p); got != tt.want {
			t.Errorf("FormatPercentage(%v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

type mockActivityFinder struct {
	prevFn func(ctx context.Context, authorID, excludeID int64) (*time.Time, error)
}

func (m *mockActivityFinder) PreviousTranscriptionTime(ctx context.Context, authorID, excludeID int64) (*time.Time, error) {
	return m.prevFn(ctx, authorID, excludeID)
}

func TestNewInactivityPredicate(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	if NewInactivityPredicate(&mockActivityFinder{}, 0, clock) != nil {
		t.Fatal("days=0 should disable the predicate")
	}

	var gotExclude int64
	old := now.Add(-8 * 24 * time.Hour)
	finder := &mockActivityFinder{prevFn: func(_ context.Context, _, excludeID int64) (*time.Time, error) {
		gotExclude = excludeID
		return &old, nil
	}}
	pred := NewInactivityPredicate(finder, 7, clock)
	low, err := pred(context.Background(), &model.User{ID: 1}, &model.Transcription{ID: 99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !low {
		t.Error("8 days of inactivity should be low activity with a 7 day threshold")
	}
	if gotExclude != 99 {
		t.Errorf("excludeID = %d, want 99", gotExclude)
	}

	recent := now.Add(-time.Hour)
	finder.prevFn = func(context.Context, int64, int64) (*time.Time, error) { return &recent, nil }
	if low, _ := pred(context.Background(), &model.User{ID: 1}, &model.Transcription{ID: 1}); low {
		t.Error("recent activity should not be low activity")
	}

	finder.prevFn = func(context.Context, int64, int64) (*time.Time, error) { return nil, nil }
	if low, _ := pred(context.Background(), &model.User{ID: 1}, &model.Transcription{ID: 1}); low {
		t.Error("first transcription should not be low activity")
	}
}
