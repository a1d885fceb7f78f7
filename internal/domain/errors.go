package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a quiz, attempt, response or achievement does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation covers malformed input and violated business rules.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState is returned when a transition is attempted from the wrong attempt state.
	ErrInvalidState = errors.New("invalid attempt state")
	// ErrNotEligible is returned when eligibility checks reject a start or an award.
	ErrNotEligible = errors.New("not eligible")
	// ErrUnauthorized is returned when the caller does not own the resource.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when a uniqueness constraint rejects a concurrent write.
	ErrConflict = errors.New("conflict")
	// ErrUnsupported is returned when a question type cannot be graded automatically.
	ErrUnsupported = errors.New("unsupported")

	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrAttemptNotFound indicates an unknown attempt id.
	ErrAttemptNotFound = fmt.Errorf("attempt %w", ErrNotFound)
	// ErrResponseNotFound indicates an unknown response id.
	ErrResponseNotFound = fmt.Errorf("response %w", ErrNotFound)
	// ErrAchievementNotFound indicates an unknown achievement id.
	ErrAchievementNotFound = fmt.Errorf("achievement %w", ErrNotFound)
	// ErrQuestionNotFound indicates a submitted question ID is not part of the quiz.
	ErrQuestionNotFound = fmt.Errorf("question not in quiz: %w", ErrValidation)
	// ErrOptionNotFound indicates a submitted option ID is not part of the question.
	ErrOptionNotFound = fmt.Errorf("option not in question: %w", ErrValidation)
	// ErrDuplicateResponse indicates two responses for the same question.
	ErrDuplicateResponse = fmt.Errorf("duplicate response: %w", ErrValidation)
	// ErrInvalidQuiz indicates a quiz whose questions are worth zero points in total.
	ErrInvalidQuiz = fmt.Errorf("invalid quiz: %w", ErrValidation)
)

// EligibilityReason names the check that rejected a start or an award.
type EligibilityReason string

const (
	ReasonQuizInactive        EligibilityReason = "QuizInactive"
	ReasonAttemptInProgress   EligibilityReason = "AttemptInProgress"
	ReasonMaxAttemptsExceeded EligibilityReason = "MaxAttemptsExceeded"
	ReasonCooldownActive      EligibilityReason = "CooldownActive"
	ReasonAccessDenied        EligibilityReason = "AccessDenied"
	ReasonCriteriaNotMet      EligibilityReason = "CriteriaNotMet"
)

// EligibilityError carries the specific reason behind ErrNotEligible.
type EligibilityError struct {
	Reason EligibilityReason
}

func (e *EligibilityError) Error() string {
	return "not eligible: " + string(e.Reason)
}

func (e *EligibilityError) Is(target error) bool {
	return target == ErrNotEligible
}

// NotEligible builds an EligibilityError for reason.
func NotEligible(reason EligibilityReason) error {
	return &EligibilityError{Reason: reason}
}

// ReasonOf extracts the eligibility reason from err, if any.
func ReasonOf(err error) (EligibilityReason, bool) {
	var e *EligibilityError
	if errors.As(err, &e) {
		return e.Reason, true
	}
	return "", false
}
