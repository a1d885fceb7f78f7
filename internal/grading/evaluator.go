// Package grading judges submitted answers and turns them into attempt results.
package grading

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"quiz-attempt-service/internal/domain"
)

// Evaluation is the judgement of a single response.
type Evaluation struct {
	Response     domain.SubmittedResponse
	Question     domain.Question
	IsCorrect    bool
	PointsEarned int
	// NeedsGrading marks responses left for a manual grader.
	NeedsGrading bool
}

// Evaluate judges one answer against the question's answer data. It returns
// domain.ErrUnsupported when the question cannot be graded automatically.
func Evaluate(q domain.Question, r domain.SubmittedResponse) (Evaluation, error) {
	eval := Evaluation{Response: r, Question: q}
	if choiceType(q.Type) && r.SelectedOptionID != "" && !hasOption(q, r.SelectedOptionID) {
		return eval, fmt.Errorf("option %s for question %s: %w", r.SelectedOptionID, q.ID, domain.ErrOptionNotFound)
	}
	if !q.Type.AutoGradable() {
		return eval, fmt.Errorf("question %s of type %s: %w", q.ID, q.Type, domain.ErrUnsupported)
	}

	correct, err := singleCorrectOption(q)
	if err != nil {
		return eval, err
	}

	switch q.Type {
	case domain.MultipleChoice, domain.TrueFalse:
		eval.IsCorrect = r.SelectedOptionID != "" && r.SelectedOptionID == correct.ID
	case domain.ShortAnswer:
		answer := strings.TrimSpace(r.TextAnswer)
		eval.IsCorrect = answer != "" && strings.EqualFold(answer, strings.TrimSpace(correct.Text))
	}

	if eval.IsCorrect {
		eval.PointsEarned = q.Points
	}
	return eval, nil
}

// ManuallyGraded reports whether responses to q are left for a human grader:
// the type is not auto-gradable, or the answer data has no single correct option.
func ManuallyGraded(q domain.Question) bool {
	if !q.Type.AutoGradable() {
		return true
	}
	_, err := singleCorrectOption(q)
	return err != nil
}

func choiceType(t domain.QuestionType) bool {
	return t == domain.MultipleChoice || t == domain.TrueFalse
}

// singleCorrectOption returns the only option flagged correct. None or several
// flagged options make the question not auto-gradable.
func singleCorrectOption(q domain.Question) (domain.Option, error) {
	var found *domain.Option
	for i := range q.Options {
		if !q.Options[i].Correct {
			continue
		}
		if found != nil {
			return domain.Option{}, fmt.Errorf("question %s has several correct options: %w", q.ID, domain.ErrUnsupported)
		}
		found = &q.Options[i]
	}
	if found == nil {
		return domain.Option{}, fmt.Errorf("question %s has no correct option: %w", q.ID, domain.ErrUnsupported)
	}
	return *found, nil
}

func hasOption(q domain.Question, optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Evaluator fans a batch of responses out over a bounded number of goroutines.
type Evaluator struct {
	workers int
}

// NewEvaluator caps concurrent evaluations at workers (GOMAXPROCS when <= 0).
func NewEvaluator(workers int) *Evaluator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Evaluator{workers: workers}
}

// EvaluateAll validates the batch against the quiz and evaluates every response.
// Results are returned in submission order; each goroutine writes only its own slot.
func (e *Evaluator) EvaluateAll(ctx context.Context, quiz domain.Quiz, responses []domain.SubmittedResponse) ([]Evaluation, error) {
	questions := make([]domain.Question, len(responses))
	seen := make(map[string]struct{}, len(responses))
	for i, r := range responses {
		if _, dup := seen[r.QuestionID]; dup {
			return nil, fmt.Errorf("question %s: %w", r.QuestionID, domain.ErrDuplicateResponse)
		}
		seen[r.QuestionID] = struct{}{}
		q, ok := quiz.Question(r.QuestionID)
		if !ok {
			return nil, fmt.Errorf("question %s: %w", r.QuestionID, domain.ErrQuestionNotFound)
		}
		questions[i] = q
	}

	results := make([]Evaluation, len(responses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range responses {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			eval, err := Evaluate(questions[i], responses[i])
			if errors.Is(err, domain.ErrUnsupported) {
				eval = Evaluation{Response: responses[i], Question: questions[i], NeedsGrading: true}
				err = nil
			}
			results[i] = eval
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
