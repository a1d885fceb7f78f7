package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func TestSubmitScoresAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	updates, cancel, err := h.events.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	a := h.start(t, "u1", "quiz-1")
	if a.Status != domain.StatusInProgress {
		t.Fatalf("expected InProgress, got %s", a.Status)
	}
	if e := <-updates; e.Type != domain.EventAttemptStarted {
		t.Fatalf("expected AttemptStarted, got %s", e.Type)
	}

	h.clock.Advance(4*time.Minute + 10*time.Second)
	res := h.submit(t, a.ID, "u1", answers())

	got := res.Attempt
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected Completed, got %s", got.Status)
	}
	if *got.Score != 15 || *got.MaxScore != 20 || *got.Percentage != 75 {
		t.Fatalf("expected 15/20 = 75, got %d/%d = %v", *got.Score, *got.MaxScore, *got.Percentage)
	}
	if got.Passed == nil || !*got.Passed {
		t.Fatalf("expected the attempt to pass a 70%% threshold")
	}
	if *got.ElapsedMinutes != 5 {
		t.Fatalf("expected 5 elapsed minutes, got %d", *got.ElapsedMinutes)
	}
	if len(res.Responses) != 3 {
		t.Fatalf("expected 3 stored responses, got %d", len(res.Responses))
	}
	if len(res.Events) != 1 || res.Events[0].Type != domain.EventAttemptCompleted {
		t.Fatalf("expected one AttemptCompleted event, got %+v", res.Events)
	}

	select {
	case e := <-updates:
		if e.Type != domain.EventAttemptCompleted || e.AttemptID != a.ID {
			t.Fatalf("unexpected published event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("completion event not published")
	}

	stored, err := h.service.ListResponses(ctx, a.ID, "u1")
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	points := map[string]int{}
	for _, r := range stored {
		points[r.QuestionID] = r.PointsEarned
	}
	if points["q1"] != 5 || points["q2"] != 0 || points["q3"] != 10 {
		t.Fatalf("unexpected per-question points %v", points)
	}
}

func TestSubmitTwiceIsRejectedWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.start(t, "u1", "quiz-1")
	h.submit(t, a.ID, "u1", answers())

	_, err := h.service.SubmitAttempt(ctx, a.ID, "u1", answers())
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	stored, err := h.service.ListResponses(ctx, a.ID, "u1")
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 responses after rejected resubmit, got %d", len(stored))
	}
}

func TestTerminalAttemptsRejectTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.start(t, "u1", "quiz-1")
	if _, err := h.service.AbandonAttempt(ctx, a.ID, "u1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if _, err := h.service.AbandonAttempt(ctx, a.ID, "u1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on second abandon, got %v", err)
	}
	if _, err := h.service.CompleteAttempt(ctx, a.ID, "u1", 10, 20, nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state completing abandoned attempt, got %v", err)
	}
	if _, err := h.service.SubmitAttempt(ctx, a.ID, "u1", answers()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state submitting abandoned attempt, got %v", err)
	}
	notes := "late"
	if _, err := h.service.UpdateAttemptProgress(ctx, a.ID, "u1", &notes); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state updating abandoned attempt, got %v", err)
	}
}

func TestCompleteAttemptValidatesScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.start(t, "u1", "quiz-1")

	if _, err := h.service.CompleteAttempt(ctx, a.ID, "u1", 21, 20, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.service.CompleteAttempt(ctx, a.ID, "u1", 0, 0, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero max, got %v", err)
	}

	notes := "done"
	res, err := h.service.CompleteAttempt(ctx, a.ID, "u1", 13, 20, &notes)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if *res.Attempt.Percentage != 65 || *res.Attempt.Passed {
		t.Fatalf("expected 65%% and a fail, got %v %v", *res.Attempt.Percentage, *res.Attempt.Passed)
	}
	if res.Attempt.Notes != "done" {
		t.Fatalf("expected notes recorded, got %q", res.Attempt.Notes)
	}
}

func TestUpdateAttemptProgressKeepsInProgress(t *testing.T) {
	h := newHarness(t)
	a := h.start(t, "u1", "quiz-1")

	notes := "on question 2"
	res, err := h.service.UpdateAttemptProgress(context.Background(), a.ID, "u1", &notes)
	if err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if res.Attempt.Status != domain.StatusInProgress || res.Attempt.Notes != notes {
		t.Fatalf("unexpected attempt %+v", res.Attempt)
	}
}

func TestOwnershipIsCheckedAfterExistence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.start(t, "u1", "quiz-1")

	if _, err := h.service.SubmitAttempt(ctx, a.ID, "u2", answers()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := h.service.SubmitAttempt(ctx, "missing", "u2", answers()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.service.AbandonAttempt(ctx, a.ID, "u2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized abandon, got %v", err)
	}
	if _, err := h.service.GetAttempt(ctx, a.ID, "u2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized read, got %v", err)
	}

	got, err := h.service.GetAttempt(ctx, a.ID, "u1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("expected attempt untouched, got %s", got.Status)
	}
}

func TestSubmitRejectsUnknownQuestionAtomically(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.start(t, "u1", "quiz-1")

	bad := append(answers(), domain.SubmittedResponse{QuestionID: "q9", TextAnswer: "?"})
	if _, err := h.service.SubmitAttempt(ctx, a.ID, "u1", bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := h.service.ListResponses(ctx, a.ID, "u1")
	if len(stored) != 0 {
		t.Fatalf("expected no responses, got %d", len(stored))
	}
	got, _ := h.service.GetAttempt(ctx, a.ID, "u1")
	if got.Status != domain.StatusInProgress {
		t.Fatalf("expected attempt still in progress, got %s", got.Status)
	}
}

func TestCanceledSubmitLeavesNoWrites(t *testing.T) {
	h := newHarness(t)
	a := h.start(t, "u1", "quiz-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.service.SubmitAttempt(ctx, a.ID, "u1", answers()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	stored, err := h.store.ListResponses(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no responses after cancel, got %d", len(stored))
	}
	got, err := h.store.GetAttempt(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.Status() != domain.StatusInProgress {
		t.Fatalf("expected in progress after cancel, got %s", got.Status())
	}
}

func TestConcurrentStartsCreateOneAttempt(t *testing.T) {
	h := newHarness(t)
	const n = 16

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.service.StartAttempt(context.Background(), domain.Caller{UserID: "u1"}, "quiz-1")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrNotEligible), errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one started attempt, got %d", ok)
	}
	attempts, _ := h.store.ListAttempts(context.Background(), "u1", "quiz-1")
	if len(attempts) != 1 {
		t.Fatalf("expected one stored attempt, got %d", len(attempts))
	}
}

func TestConcurrentSubmitsCompleteOnce(t *testing.T) {
	h := newHarness(t)
	a := h.start(t, "u1", "quiz-1")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.service.SubmitAttempt(context.Background(), a.ID, "u1", answers())
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected one successful submit, got %d", ok)
	}
	stored, _ := h.store.ListResponses(context.Background(), a.ID)
	if len(stored) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(stored))
	}
}

func TestGetAttemptCacheFollowsTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.start(t, "u1", "quiz-1")

	if _, err := h.service.GetAttempt(ctx, a.ID, "u1"); err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if h.cache.Len() == 0 {
		t.Fatalf("expected attempt cached")
	}

	if _, err := h.service.AbandonAttempt(ctx, a.ID, "u1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	got, err := h.service.GetAttempt(ctx, a.ID, "u1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.Status != domain.StatusAbandoned {
		t.Fatalf("expected cached read to reflect abandonment, got %s", got.Status)
	}
}

func TestGradeResponseRecomputesScore(t *testing.T) {
	h := newHarness(t)
	h.quizzes.Put(essayQuiz())
	ctx := context.Background()

	a := h.start(t, "u1", "quiz-essay")
	res := h.submit(t, a.ID, "u1", append(answers(), domain.SubmittedResponse{QuestionID: "q4", TextAnswer: "an essay"}))
	if *res.Attempt.Score != 15 || *res.Attempt.MaxScore != 40 {
		t.Fatalf("expected 15/40 before grading, got %d/%d", *res.Attempt.Score, *res.Attempt.MaxScore)
	}

	var essayID, autoID string
	for _, r := range res.Responses {
		switch r.QuestionID {
		case "q4":
			essayID = r.ID
			if !r.NeedsGrading {
				t.Fatalf("expected essay to need grading")
			}
		case "q1":
			autoID = r.ID
		}
	}

	if _, err := h.service.GradeResponse(ctx, autoID, false, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error grading an auto-graded response, got %v", err)
	}
	if _, err := h.service.GradeResponse(ctx, essayID, true, 21); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for points above the question value, got %v", err)
	}

	graded, err := h.service.GradeResponse(ctx, essayID, true, 16)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if *graded.Attempt.Score != 31 || *graded.Attempt.Percentage != 77.5 {
		t.Fatalf("expected 31/40 = 77.5, got %d = %v", *graded.Attempt.Score, *graded.Attempt.Percentage)
	}
	if !*graded.Attempt.Passed {
		t.Fatalf("expected regraded attempt to pass")
	}
	if graded.Responses[0].NeedsGrading || graded.Responses[0].GradedAt == nil {
		t.Fatalf("expected response marked graded, got %+v", graded.Responses[0])
	}

	regraded, err := h.service.GradeResponse(ctx, essayID, false, 4)
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}
	if *regraded.Attempt.Score != 19 {
		t.Fatalf("expected score to follow the latest grade, got %d", *regraded.Attempt.Score)
	}

	cachedView, err := h.service.GetAttempt(ctx, a.ID, "u1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if *cachedView.Score != 19 {
		t.Fatalf("expected fresh score through the cache, got %d", *cachedView.Score)
	}
}

func TestGradeResponseAcceptsAmbiguousChoiceQuestion(t *testing.T) {
	h := newHarness(t)
	quiz := sampleQuiz()
	quiz.ID = "quiz-ambiguous"
	quiz.Questions[0].Options[0].Correct = true
	h.quizzes.Put(quiz)
	ctx := context.Background()

	a := h.start(t, "u1", quiz.ID)
	res := h.submit(t, a.ID, "u1", answers())
	if *res.Attempt.Score != 10 || *res.Attempt.Passed {
		t.Fatalf("expected 10/20 failing before grading, got %d passed=%v", *res.Attempt.Score, *res.Attempt.Passed)
	}

	var q1ID string
	for _, r := range res.Responses {
		if r.QuestionID == "q1" {
			q1ID = r.ID
			if !r.NeedsGrading || r.PointsEarned != 0 {
				t.Fatalf("expected q1 left for grading with 0 points, got %+v", r)
			}
		}
	}

	graded, err := h.service.GradeResponse(ctx, q1ID, true, 5)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if *graded.Attempt.Score != 15 || *graded.Attempt.Percentage != 75 || !*graded.Attempt.Passed {
		t.Fatalf("expected 15/20 = 75 passing, got %d = %v", *graded.Attempt.Score, *graded.Attempt.Percentage)
	}

	regraded, err := h.service.GradeResponse(ctx, q1ID, false, 0)
	if err != nil {
		t.Fatalf("regrade after grading: %v", err)
	}
	if *regraded.Attempt.Score != 10 {
		t.Fatalf("expected score to follow the regrade, got %d", *regraded.Attempt.Score)
	}
}
