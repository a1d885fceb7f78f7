package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

var started = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestStoreSingleInProgressAttempt(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.AddAttempt(ctx, domain.NewAttempt("a1", "u1", "quiz-1", started)); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := s.AddAttempt(ctx, domain.NewAttempt("a2", "u1", "quiz-1", started.Add(time.Second)))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for second in-progress attempt, got %v", err)
	}
	if err := s.AddAttempt(ctx, domain.NewAttempt("a3", "u1", "quiz-2", started)); err != nil {
		t.Fatalf("expected other quiz allowed, got %v", err)
	}

	a1, _ := s.GetAttempt(ctx, "a1")
	active, _ := a1.Active()
	if err := s.UpdateAttempt(ctx, a1.With(active.Abandon(a1.StartedAt, started.Add(time.Minute)))); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := s.AddAttempt(ctx, domain.NewAttempt("a2", "u1", "quiz-1", started.Add(2*time.Minute))); err != nil {
		t.Fatalf("expected new attempt after abandon, got %v", err)
	}

	attempts, _ := s.ListAttempts(ctx, "u1", "quiz-1")
	if len(attempts) != 2 || attempts[0].ID != "a1" || attempts[1].ID != "a2" {
		t.Fatalf("expected attempts ordered by start, got %+v", attempts)
	}
}

func TestStoreResponseUniqueness(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_ = s.AddAttempt(ctx, domain.NewAttempt("a1", "u1", "quiz-1", started))

	if err := s.AddResponses(ctx, []domain.Response{{ID: "r1", AttemptID: "a1", QuestionID: "q1"}}); err != nil {
		t.Fatalf("add response: %v", err)
	}
	err := s.AddResponses(ctx, []domain.Response{
		{ID: "r2", AttemptID: "a1", QuestionID: "q2"},
		{ID: "r3", AttemptID: "a1", QuestionID: "q1"},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// The failed batch is all or nothing.
	if _, err := s.GetResponse(ctx, "r2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected r2 not stored, got %v", err)
	}

	if err := s.AddResponses(ctx, []domain.Response{{ID: "r9", AttemptID: "ghost", QuestionID: "q1"}}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing attempt, got %v", err)
	}
}

func TestStoreRollbackDiscardsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.AddAttempt(ctx, domain.NewAttempt("a1", "u1", "quiz-1", started)); err != nil {
		t.Fatalf("add in tx: %v", err)
	}
	if _, err := s.GetAttempt(ctx, "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected uncommitted attempt invisible, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := s.GetAttempt(ctx, "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rolled back attempt gone, got %v", err)
	}

	tx, _ = s.Begin(ctx)
	_ = tx.AddAttempt(ctx, domain.NewAttempt("a1", "u1", "quiz-1", started))
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
	if _, err := s.GetAttempt(ctx, "a1"); err != nil {
		t.Fatalf("expected committed attempt, got %v", err)
	}
}

func TestStoreBeginHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore().Begin(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestStoreAwards(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	award := domain.UserAchievement{ID: "w1", UserID: "u1", AchievementID: "first", AwardedAt: started}

	if err := s.AddUserAchievement(ctx, award); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown achievement rejected, got %v", err)
	}
	_ = s.AddAchievement(ctx, domain.Achievement{ID: "first", Type: domain.AchievementQuizCompletion, RequiredPoints: 1})
	if err := s.AddUserAchievement(ctx, award); err != nil {
		t.Fatalf("award: %v", err)
	}
	award.ID = "w2"
	if err := s.AddUserAchievement(ctx, award); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected duplicate award conflict, got %v", err)
	}
	if n, _ := s.CountAwards(ctx, "first"); n != 1 {
		t.Fatalf("expected one award, got %d", n)
	}
	got, err := s.GetUserAchievement(ctx, "u1", "first")
	if err != nil || got.ID != "w1" {
		t.Fatalf("expected original award, got %+v %v", got, err)
	}
}
