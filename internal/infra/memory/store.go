package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. Transactions are serialized
// and work on a copy of the data that replaces the live copy on commit, so a
// rolled back transaction leaves no trace. The constraints a database would
// enforce (one in-progress attempt per user and quiz, one response per attempt
// and question, one award per user and achievement) are checked on every write.
type Store struct {
	txMu sync.Mutex // held for the lifetime of a transaction

	mu   sync.RWMutex
	data *dataset
}

type dataset struct {
	attempts     map[string]domain.AttemptSnapshot
	responses    map[string]domain.Response
	achievements map[string]domain.Achievement
	awards       map[string]domain.UserAchievement
}

func NewStore() *Store {
	return &Store{data: &dataset{
		attempts:     make(map[string]domain.AttemptSnapshot),
		responses:    make(map[string]domain.Response),
		achievements: make(map[string]domain.Achievement),
		awards:       make(map[string]domain.UserAchievement),
	}}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		attempts:     make(map[string]domain.AttemptSnapshot, len(d.attempts)),
		responses:    make(map[string]domain.Response, len(d.responses)),
		achievements: make(map[string]domain.Achievement, len(d.achievements)),
		awards:       make(map[string]domain.UserAchievement, len(d.awards)),
	}
	for k, v := range d.attempts {
		c.attempts[k] = v
	}
	for k, v := range d.responses {
		c.responses[k] = v
	}
	for k, v := range d.achievements {
		c.achievements[k] = v
	}
	for k, v := range d.awards {
		c.awards[k] = v
	}
	return c
}

// Begin starts a transaction. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (app.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()
	return &Tx{store: s, view: view{work}}, nil
}

// Tx is a transaction over Store.
type Tx struct {
	view
	store *Store
	done  bool
}

func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.store.mu.Lock()
	t.store.data = t.view.d
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (s *Store) read(fn func(v view) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{s.data})
}

func (s *Store) write(ctx context.Context, fn func(v view) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx.(*Tx).view); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetAttempt(ctx context.Context, attemptID string) (a domain.Attempt, err error) {
	err = s.read(func(v view) error { a, err = v.GetAttempt(ctx, attemptID); return err })
	return a, err
}

func (s *Store) ListAttempts(ctx context.Context, userID, quizID string) (out []domain.Attempt, err error) {
	err = s.read(func(v view) error { out, err = v.ListAttempts(ctx, userID, quizID); return err })
	return out, err
}

func (s *Store) ListUserAttempts(ctx context.Context, userID string) (out []domain.Attempt, err error) {
	err = s.read(func(v view) error { out, err = v.ListUserAttempts(ctx, userID); return err })
	return out, err
}

func (s *Store) AddAttempt(ctx context.Context, attempt domain.Attempt) error {
	return s.write(ctx, func(v view) error { return v.AddAttempt(ctx, attempt) })
}

func (s *Store) UpdateAttempt(ctx context.Context, attempt domain.Attempt) error {
	return s.write(ctx, func(v view) error { return v.UpdateAttempt(ctx, attempt) })
}

func (s *Store) GetResponse(ctx context.Context, responseID string) (r domain.Response, err error) {
	err = s.read(func(v view) error { r, err = v.GetResponse(ctx, responseID); return err })
	return r, err
}

func (s *Store) ListResponses(ctx context.Context, attemptID string) (out []domain.Response, err error) {
	err = s.read(func(v view) error { out, err = v.ListResponses(ctx, attemptID); return err })
	return out, err
}

func (s *Store) AddResponses(ctx context.Context, responses []domain.Response) error {
	return s.write(ctx, func(v view) error { return v.AddResponses(ctx, responses) })
}

func (s *Store) UpdateResponse(ctx context.Context, response domain.Response) error {
	return s.write(ctx, func(v view) error { return v.UpdateResponse(ctx, response) })
}

func (s *Store) GetAchievement(ctx context.Context, achievementID string) (a domain.Achievement, err error) {
	err = s.read(func(v view) error { a, err = v.GetAchievement(ctx, achievementID); return err })
	return a, err
}

func (s *Store) ListAchievements(ctx context.Context) (out []domain.Achievement, err error) {
	err = s.read(func(v view) error { out, err = v.ListAchievements(ctx); return err })
	return out, err
}

func (s *Store) AddAchievement(ctx context.Context, achievement domain.Achievement) error {
	return s.write(ctx, func(v view) error { return v.AddAchievement(ctx, achievement) })
}

func (s *Store) DeleteAchievement(ctx context.Context, achievementID string) error {
	return s.write(ctx, func(v view) error { return v.DeleteAchievement(ctx, achievementID) })
}

func (s *Store) CountAwards(ctx context.Context, achievementID string) (n int, err error) {
	err = s.read(func(v view) error { n, err = v.CountAwards(ctx, achievementID); return err })
	return n, err
}

func (s *Store) GetUserAchievement(ctx context.Context, userID, achievementID string) (a domain.UserAchievement, err error) {
	err = s.read(func(v view) error { a, err = v.GetUserAchievement(ctx, userID, achievementID); return err })
	return a, err
}

func (s *Store) AddUserAchievement(ctx context.Context, award domain.UserAchievement) error {
	return s.write(ctx, func(v view) error { return v.AddUserAchievement(ctx, award) })
}

// view implements app.Repository over one dataset. Callers handle locking.
type view struct {
	d *dataset
}

func (v view) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	snap, ok := v.d.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, fmt.Errorf("%s: %w", attemptID, domain.ErrAttemptNotFound)
	}
	return snap.Attempt()
}

func (v view) ListAttempts(_ context.Context, userID, quizID string) ([]domain.Attempt, error) {
	return v.attempts(func(s domain.AttemptSnapshot) bool {
		return s.UserID == userID && s.QuizID == quizID
	})
}

func (v view) ListUserAttempts(_ context.Context, userID string) ([]domain.Attempt, error) {
	return v.attempts(func(s domain.AttemptSnapshot) bool { return s.UserID == userID })
}

func (v view) attempts(match func(domain.AttemptSnapshot) bool) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for _, snap := range v.d.attempts {
		if !match(snap) {
			continue
		}
		a, err := snap.Attempt()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (v view) AddAttempt(_ context.Context, attempt domain.Attempt) error {
	if _, exists := v.d.attempts[attempt.ID]; exists {
		return fmt.Errorf("attempt %s exists: %w", attempt.ID, domain.ErrConflict)
	}
	snap := attempt.Snapshot()
	if err := v.checkSingleInProgress(snap); err != nil {
		return err
	}
	v.d.attempts[attempt.ID] = snap
	return nil
}

func (v view) UpdateAttempt(_ context.Context, attempt domain.Attempt) error {
	if _, exists := v.d.attempts[attempt.ID]; !exists {
		return fmt.Errorf("%s: %w", attempt.ID, domain.ErrAttemptNotFound)
	}
	snap := attempt.Snapshot()
	if err := v.checkSingleInProgress(snap); err != nil {
		return err
	}
	v.d.attempts[attempt.ID] = snap
	return nil
}

func (v view) checkSingleInProgress(snap domain.AttemptSnapshot) error {
	if snap.Status != domain.StatusInProgress {
		return nil
	}
	for id, other := range v.d.attempts {
		if id != snap.ID && other.Status == domain.StatusInProgress &&
			other.UserID == snap.UserID && other.QuizID == snap.QuizID {
			return fmt.Errorf("user %s already has attempt %s in progress on quiz %s: %w",
				snap.UserID, id, snap.QuizID, domain.ErrConflict)
		}
	}
	return nil
}

func (v view) GetResponse(_ context.Context, responseID string) (domain.Response, error) {
	r, ok := v.d.responses[responseID]
	if !ok {
		return domain.Response{}, fmt.Errorf("%s: %w", responseID, domain.ErrResponseNotFound)
	}
	return r, nil
}

func (v view) ListResponses(_ context.Context, attemptID string) ([]domain.Response, error) {
	var out []domain.Response
	for _, r := range v.d.responses {
		if r.AttemptID == attemptID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (v view) AddResponses(_ context.Context, responses []domain.Response) error {
	for _, r := range responses {
		if _, ok := v.d.attempts[r.AttemptID]; !ok {
			return fmt.Errorf("%s: %w", r.AttemptID, domain.ErrAttemptNotFound)
		}
		if _, exists := v.d.responses[r.ID]; exists {
			return fmt.Errorf("response %s exists: %w", r.ID, domain.ErrConflict)
		}
		for _, other := range v.d.responses {
			if other.AttemptID == r.AttemptID && other.QuestionID == r.QuestionID {
				return fmt.Errorf("attempt %s already answered question %s: %w", r.AttemptID, r.QuestionID, domain.ErrConflict)
			}
		}
		v.d.responses[r.ID] = r
	}
	return nil
}

func (v view) UpdateResponse(_ context.Context, response domain.Response) error {
	if _, ok := v.d.responses[response.ID]; !ok {
		return fmt.Errorf("%s: %w", response.ID, domain.ErrResponseNotFound)
	}
	v.d.responses[response.ID] = response
	return nil
}

func (v view) GetAchievement(_ context.Context, achievementID string) (domain.Achievement, error) {
	a, ok := v.d.achievements[achievementID]
	if !ok {
		return domain.Achievement{}, fmt.Errorf("%s: %w", achievementID, domain.ErrAchievementNotFound)
	}
	return a, nil
}

func (v view) ListAchievements(_ context.Context) ([]domain.Achievement, error) {
	out := make([]domain.Achievement, 0, len(v.d.achievements))
	for _, a := range v.d.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) AddAchievement(_ context.Context, achievement domain.Achievement) error {
	if _, exists := v.d.achievements[achievement.ID]; exists {
		return fmt.Errorf("achievement %s exists: %w", achievement.ID, domain.ErrConflict)
	}
	v.d.achievements[achievement.ID] = achievement
	return nil
}

func (v view) DeleteAchievement(_ context.Context, achievementID string) error {
	if _, ok := v.d.achievements[achievementID]; !ok {
		return fmt.Errorf("%s: %w", achievementID, domain.ErrAchievementNotFound)
	}
	delete(v.d.achievements, achievementID)
	return nil
}

func (v view) CountAwards(_ context.Context, achievementID string) (int, error) {
	n := 0
	for _, a := range v.d.awards {
		if a.AchievementID == achievementID {
			n++
		}
	}
	return n, nil
}

func (v view) GetUserAchievement(_ context.Context, userID, achievementID string) (domain.UserAchievement, error) {
	a, ok := v.d.awards[awardKey(userID, achievementID)]
	if !ok {
		return domain.UserAchievement{}, fmt.Errorf("award %s/%s: %w", userID, achievementID, domain.ErrNotFound)
	}
	return a, nil
}

func (v view) AddUserAchievement(_ context.Context, award domain.UserAchievement) error {
	key := awardKey(award.UserID, award.AchievementID)
	if _, exists := v.d.awards[key]; exists {
		return fmt.Errorf("user %s already holds %s: %w", award.UserID, award.AchievementID, domain.ErrConflict)
	}
	if _, ok := v.d.achievements[award.AchievementID]; !ok {
		return fmt.Errorf("%s: %w", award.AchievementID, domain.ErrAchievementNotFound)
	}
	v.d.awards[key] = award
	return nil
}

func awardKey(userID, achievementID string) string {
	return userID + "\x00" + achievementID
}
