package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"quiz-attempt-service/internal/domain"
)

// SaveQuiz writes quiz content to the catalog, then drops the cached copy so
// new attempts are started and graded against the saved version.
func (s *Service) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if s.catalog == nil {
		return s.fail("save_quiz", fmt.Errorf("no quiz catalog configured: %w", domain.ErrUnsupported))
	}
	if err := validateQuiz(&quiz); err != nil {
		return s.fail("save_quiz", err)
	}
	if err := s.catalog.SaveQuiz(ctx, quiz); err != nil {
		return s.fail("save_quiz", err)
	}
	if inv, ok := s.quizzes.(QuizInvalidator); ok {
		if err := inv.Invalidate(ctx, quiz.ID); err != nil {
			s.log.Warn("quiz cache invalidation failed", zap.String("quiz_id", quiz.ID), zap.Error(err))
		}
	}
	s.log.Info("quiz saved", zap.String("quiz_id", quiz.ID), zap.Int("questions", len(quiz.Questions)))
	return nil
}

func validateQuiz(quiz *domain.Quiz) error {
	if quiz.ID == "" {
		return fmt.Errorf("quiz id is required: %w", domain.ErrValidation)
	}
	seen := make(map[string]struct{}, len(quiz.Questions))
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		if q.ID == "" {
			return fmt.Errorf("question %d of quiz %s has no id: %w", i, quiz.ID, domain.ErrValidation)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("question %s repeated in quiz %s: %w", q.ID, quiz.ID, domain.ErrValidation)
		}
		seen[q.ID] = struct{}{}
		if q.Points < 0 {
			return fmt.Errorf("question %s has negative points: %w", q.ID, domain.ErrValidation)
		}
		if q.QuizID == "" {
			q.QuizID = quiz.ID
		} else if q.QuizID != quiz.ID {
			return fmt.Errorf("question %s belongs to quiz %s: %w", q.ID, q.QuizID, domain.ErrValidation)
		}
	}
	if quiz.MaxScore() == 0 {
		return fmt.Errorf("quiz %s: %w", quiz.ID, domain.ErrInvalidQuiz)
	}
	return nil
}
