package grading

import (
	"fmt"

	"quiz-attempt-service/internal/domain"
)

// Aggregate sums earned points over the evaluations and scores them against every
// question of the quiz, answered or not. The sum is commutative, so the result does
// not depend on the order evaluations finished in.
func Aggregate(quiz domain.Quiz, evals []Evaluation) (domain.Result, error) {
	maxScore := quiz.MaxScore()
	if maxScore == 0 {
		return domain.Result{}, fmt.Errorf("quiz %s: %w", quiz.ID, domain.ErrInvalidQuiz)
	}
	score := 0
	for _, e := range evals {
		score += e.PointsEarned
	}
	return domain.NewResult(score, maxScore, quiz.PassingThreshold)
}
