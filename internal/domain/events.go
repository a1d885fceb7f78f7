package domain

import "time"

// EventType names a domain event.
type EventType string

const (
	EventAttemptStarted     EventType = "AttemptStarted"
	EventAttemptCompleted   EventType = "AttemptCompleted"
	EventAttemptAbandoned   EventType = "AttemptAbandoned"
	EventResponseGraded     EventType = "ResponseGraded"
	EventAchievementAwarded EventType = "AchievementAwarded"
)

// Event is raised by a mutation and returned alongside its result.
type Event struct {
	Type          EventType `json:"type"`
	UserID        string    `json:"userId"`
	QuizID        string    `json:"quizId,omitempty"`
	AttemptID     string    `json:"attemptId,omitempty"`
	ResponseID    string    `json:"responseId,omitempty"`
	AchievementID string    `json:"achievementId,omitempty"`
	Score         *int      `json:"score,omitempty"`
	Percentage    *float64  `json:"percentage,omitempty"`
	Passed        *bool     `json:"passed,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// AttemptEvent builds an event describing attempt a.
func AttemptEvent(t EventType, a Attempt, at time.Time) Event {
	e := Event{Type: t, UserID: a.UserID, QuizID: a.QuizID, AttemptID: a.ID, OccurredAt: at}
	if c, ok := a.State.(Completed); ok {
		score, pct := c.Result.Score, c.Result.Percentage()
		e.Score = &score
		e.Percentage = &pct
		e.Passed = c.Result.Passed
	}
	return e
}
