package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"quiz-attempt-service/internal/domain"
)

// QuizLoader fetches quiz content from the catalog (Postgres in production).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quizzes in process with a jittered TTL so attempt
// traffic does not reload the catalog on every call.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := r.lookup(quizID); ok {
			return quiz, nil
		}
		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{quiz: quiz, expiresAt: r.clock().Add(r.ttlWithJitterLocked())}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate drops a cached quiz after an explicit update.
func (r *QuizRepository) Invalidate(_ context.Context, quizID string) error {
	r.mu.Lock()
	delete(r.cache, quizID)
	r.mu.Unlock()
	return nil
}

func (r *QuizRepository) lookup(quizID string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

// ttlWithJitterLocked adds up to 10% to the TTL to spread expirations. r.mu must be held.
func (r *QuizRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader is a loader backed by an in-memory map (tests and demos).
type StaticQuizLoader struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	if quizzes == nil {
		quizzes = make(map[string]domain.Quiz)
	}
	return &StaticQuizLoader{quizzes: quizzes}
}

// Put adds or replaces a quiz.
func (l *StaticQuizLoader) Put(quiz domain.Quiz) {
	l.mu.Lock()
	l.quizzes[quiz.ID] = quiz
	l.mu.Unlock()
}

// SaveQuiz lets the loader serve as an app.QuizWriter.
func (l *StaticQuizLoader) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	l.Put(quiz)
	return nil
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, fmt.Errorf("%s: %w", quizID, domain.ErrQuizNotFound)
}

// GetQuiz lets the loader serve as an uncached app.QuizRepository.
func (l *StaticQuizLoader) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return l.LoadQuiz(ctx, quizID)
}
