package domain

import (
	"slices"
	"time"
)

// QuizStatus is the publication state of a quiz.
type QuizStatus string

const (
	QuizDraft     QuizStatus = "Draft"
	QuizPublished QuizStatus = "Published"
	QuizArchived  QuizStatus = "Archived"
)

// QuestionType selects how a response is judged.
type QuestionType string

const (
	MultipleChoice QuestionType = "MultipleChoice"
	TrueFalse      QuestionType = "TrueFalse"
	ShortAnswer    QuestionType = "ShortAnswer"
	FillInTheBlank QuestionType = "FillInTheBlank"
	Essay          QuestionType = "Essay"
)

// AutoGradable reports whether the type can be judged without a human grader.
func (t QuestionType) AutoGradable() bool {
	switch t {
	case MultipleChoice, TrueFalse, ShortAnswer:
		return true
	}
	return false
}

// Option represents a possible answer for a question.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Correct   bool   `json:"correct"`
	SortOrder int    `json:"sortOrder"`
}

// Question is a scored item of a quiz.
type Question struct {
	ID        string        `json:"id"`
	QuizID    string        `json:"quizId"`
	Type      QuestionType  `json:"type"`
	Prompt    string        `json:"prompt"`
	Points    int           `json:"points"`
	SortOrder int           `json:"sortOrder"`
	TimeLimit time.Duration `json:"timeLimit,omitempty"`
	Options   []Option      `json:"options"`
}

// AccessPolicy describes who may attempt a quiz.
type AccessPolicy struct {
	Public       bool     `json:"public"`
	AllowedUsers []string `json:"allowedUsers,omitempty"`
	AllowedRoles []string `json:"allowedRoles,omitempty"`
}

// Grants reports whether caller may take the quiz.
func (p AccessPolicy) Grants(caller Caller) bool {
	if p.Public {
		return true
	}
	if slices.Contains(p.AllowedUsers, caller.UserID) {
		return true
	}
	for _, role := range caller.Roles {
		if slices.Contains(p.AllowedRoles, role) {
			return true
		}
	}
	return false
}

// Quiz is a collection of questions plus the rules for attempting it.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    QuizStatus `json:"status"`
	Questions []Question `json:"questions"`

	// PassingThreshold is a percentage; nil means the quiz has no pass/fail verdict.
	PassingThreshold *float64      `json:"passingThreshold,omitempty"`
	MaxAttempts      int           `json:"maxAttempts"` // 0 = unlimited
	Cooldown         time.Duration `json:"cooldown,omitempty"`
	StartDate        time.Time     `json:"startDate"`
	EndDate          *time.Time    `json:"endDate,omitempty"`
	Access           AccessPolicy  `json:"access"`
}

// ActiveAt reports whether the quiz is published and inside [StartDate, EndDate) at t.
func (q Quiz) ActiveAt(t time.Time) bool {
	if q.Status != QuizPublished {
		return false
	}
	if t.Before(q.StartDate) {
		return false
	}
	return q.EndDate == nil || t.Before(*q.EndDate)
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// MaxScore sums the point values of every question, answered or not.
func (q Quiz) MaxScore() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// Caller identifies the user invoking a command.
type Caller struct {
	UserID string
	Roles  []string
}

// SubmittedResponse is one answer inside a Submit batch.
type SubmittedResponse struct {
	QuestionID       string        `json:"questionId"`
	SelectedOptionID string        `json:"selectedOptionId,omitempty"`
	TextAnswer       string        `json:"textAnswer,omitempty"`
	TimeSpent        time.Duration `json:"timeSpent"`
}

// Response is a stored answer to one question of an attempt.
type Response struct {
	ID               string        `json:"id"`
	AttemptID        string        `json:"attemptId"`
	QuestionID       string        `json:"questionId"`
	SelectedOptionID string        `json:"selectedOptionId,omitempty"`
	TextAnswer       string        `json:"textAnswer,omitempty"`
	IsCorrect        bool          `json:"isCorrect"`
	PointsEarned     int           `json:"pointsEarned"`
	TimeSpent        time.Duration `json:"timeSpent"`
	NeedsGrading     bool          `json:"needsGrading"`
	GradedAt         *time.Time    `json:"gradedAt,omitempty"`
}

// AchievementType selects how eligibility is computed.
type AchievementType string

const (
	AchievementQuizCompletion AchievementType = "QuizCompletion"
	AchievementHighScore      AchievementType = "HighScore"
	AchievementStreak         AchievementType = "Streak"
)

// Achievement is an award definition.
type Achievement struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           AchievementType   `json:"type"`
	RequiredPoints int               `json:"requiredPoints"`
	Criteria       map[string]string `json:"criteria,omitempty"`
}

// UserAchievement records that a user holds an achievement.
type UserAchievement struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	AwardedAt     time.Time `json:"awardedAt"`
}

// UserStatistics summarizes a user's attempt history.
type UserStatistics struct {
	UserID            string  `json:"userId"`
	TotalAttempts     int     `json:"totalAttempts"`
	CompletedAttempts int     `json:"completedAttempts"`
	AbandonedAttempts int     `json:"abandonedAttempts"`
	PassedAttempts    int     `json:"passedAttempts"`
	AveragePercentage float64 `json:"averagePercentage"`
	BestPercentage    float64 `json:"bestPercentage"`
	BestScore         int     `json:"bestScore"`
	LongestStreak     int     `json:"longestStreak"`
}
