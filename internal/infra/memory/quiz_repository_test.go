package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}

	repo.Invalidate(context.Background(), "quiz-1")
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 3: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.count())
	}
}

func TestQuizRepositoryExpires(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})}
	repo := NewQuizRepository(loader, time.Minute)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	// Past the TTL plus the maximum jitter.
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.count())
	}
}

func TestQuizRepositoryCollapsesConcurrentLoads(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
		delay:      20 * time.Millisecond,
	}
	repo := NewQuizRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
				t.Errorf("get quiz: %v", err)
			}
		}()
	}
	wg.Wait()
	if loader.count() != 1 {
		t.Fatalf("expected a single load, got %d", loader.count())
	}
}

func TestQuizRepositoryNotFound(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(nil), time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

type countingLoader struct {
	QuizLoader
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	time.Sleep(l.delay)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:     "quiz-1",
		Status: domain.QuizPublished,
		Questions: []domain.Question{
			{
				ID:     "q1",
				QuizID: "quiz-1",
				Type:   domain.MultipleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
		},
	}
}
