package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
)

// Store implements app.Store on bun. Uniqueness rules live in the schema (see
// migrations) and surface here as domain.ErrConflict.
type Store struct {
	repo
	database *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{repo: repo{db: db}, database: db}
}

func (s *Store) Begin(ctx context.Context) (app.Tx, error) {
	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{repo: repo{db: tx, lockRows: true}, tx: tx}, nil
}

// Tx is a bun transaction. Attempt, response and achievement reads take row
// locks so concurrent transitions of the same row serialize.
type Tx struct {
	repo
	tx   bun.Tx
	done bool
}

func (t *Tx) Commit() error {
	t.done = true
	return translate(t.tx.Commit())
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type repo struct {
	db       bun.IDB
	lockRows bool
}

func (r repo) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var rec attemptRecord
	q := r.db.NewSelect().Model(&rec).Where("id = ?", attemptID)
	if r.lockRows {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Attempt{}, fmt.Errorf("%s: %w", attemptID, domain.ErrAttemptNotFound)
		}
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return rec.attempt()
}

func (r repo) ListAttempts(ctx context.Context, userID, quizID string) ([]domain.Attempt, error) {
	var recs []attemptRecord
	err := r.db.NewSelect().Model(&recs).
		Where("user_id = ?", userID).
		Where("quiz_id = ?", quizID).
		Order("started_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return toAttempts(recs)
}

func (r repo) ListUserAttempts(ctx context.Context, userID string) ([]domain.Attempt, error) {
	var recs []attemptRecord
	err := r.db.NewSelect().Model(&recs).
		Where("user_id = ?", userID).
		Order("started_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user attempts: %w", err)
	}
	return toAttempts(recs)
}

func toAttempts(recs []attemptRecord) ([]domain.Attempt, error) {
	out := make([]domain.Attempt, 0, len(recs))
	for _, rec := range recs {
		a, err := rec.attempt()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r repo) AddAttempt(ctx context.Context, attempt domain.Attempt) error {
	if _, err := r.db.NewInsert().Model(newAttemptRecord(attempt)).Exec(ctx); err != nil {
		return fmt.Errorf("add attempt: %w", translate(err))
	}
	return nil
}

func (r repo) UpdateAttempt(ctx context.Context, attempt domain.Attempt) error {
	res, err := r.db.NewUpdate().Model(newAttemptRecord(attempt)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update attempt: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("%s: %w", attempt.ID, domain.ErrAttemptNotFound))
}

func (r repo) GetResponse(ctx context.Context, responseID string) (domain.Response, error) {
	var rec responseRecord
	q := r.db.NewSelect().Model(&rec).Where("id = ?", responseID)
	if r.lockRows {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Response{}, fmt.Errorf("%s: %w", responseID, domain.ErrResponseNotFound)
		}
		return domain.Response{}, fmt.Errorf("get response: %w", err)
	}
	return rec.response(), nil
}

func (r repo) ListResponses(ctx context.Context, attemptID string) ([]domain.Response, error) {
	var recs []responseRecord
	err := r.db.NewSelect().Model(&recs).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	out := make([]domain.Response, len(recs))
	for i, rec := range recs {
		out[i] = rec.response()
	}
	return out, nil
}

func (r repo) AddResponses(ctx context.Context, responses []domain.Response) error {
	if len(responses) == 0 {
		return nil
	}
	recs := make([]responseRecord, len(responses))
	for i, resp := range responses {
		recs[i] = newResponseRecord(resp)
	}
	if _, err := r.db.NewInsert().Model(&recs).Exec(ctx); err != nil {
		return fmt.Errorf("add responses: %w", translate(err))
	}
	return nil
}

func (r repo) UpdateResponse(ctx context.Context, response domain.Response) error {
	rec := newResponseRecord(response)
	res, err := r.db.NewUpdate().Model(&rec).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update response: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("%s: %w", response.ID, domain.ErrResponseNotFound))
}

func (r repo) GetAchievement(ctx context.Context, achievementID string) (domain.Achievement, error) {
	var rec achievementRecord
	q := r.db.NewSelect().Model(&rec).Where("id = ?", achievementID)
	if r.lockRows {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Achievement{}, fmt.Errorf("%s: %w", achievementID, domain.ErrAchievementNotFound)
		}
		return domain.Achievement{}, fmt.Errorf("get achievement: %w", err)
	}
	return rec.achievement(), nil
}

func (r repo) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	var recs []achievementRecord
	if err := r.db.NewSelect().Model(&recs).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	out := make([]domain.Achievement, len(recs))
	for i, rec := range recs {
		out[i] = rec.achievement()
	}
	return out, nil
}

func (r repo) AddAchievement(ctx context.Context, a domain.Achievement) error {
	criteria := a.Criteria
	if criteria == nil {
		criteria = map[string]string{}
	}
	rec := &achievementRecord{
		ID:             a.ID,
		Name:           a.Name,
		Type:           string(a.Type),
		RequiredPoints: a.RequiredPoints,
		Criteria:       criteria,
	}
	if _, err := r.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("add achievement: %w", translate(err))
	}
	return nil
}

func (r repo) DeleteAchievement(ctx context.Context, achievementID string) error {
	res, err := r.db.NewDelete().Model((*achievementRecord)(nil)).Where("id = ?", achievementID).Exec(ctx)
	if err != nil {
		// An award still references the row.
		if sqlState(err) == sqlStateForeignKeyViolation {
			return fmt.Errorf("achievement %s is awarded: %w", achievementID, domain.ErrValidation)
		}
		return fmt.Errorf("delete achievement: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("%s: %w", achievementID, domain.ErrAchievementNotFound))
}

func (r repo) CountAwards(ctx context.Context, achievementID string) (int, error) {
	n, err := r.db.NewSelect().Model((*userAchievementRecord)(nil)).
		Where("achievement_id = ?", achievementID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count awards: %w", err)
	}
	return n, nil
}

func (r repo) GetUserAchievement(ctx context.Context, userID, achievementID string) (domain.UserAchievement, error) {
	var rec userAchievementRecord
	err := r.db.NewSelect().Model(&rec).
		Where("user_id = ?", userID).
		Where("achievement_id = ?", achievementID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserAchievement{}, fmt.Errorf("award %s/%s: %w", userID, achievementID, domain.ErrNotFound)
		}
		return domain.UserAchievement{}, fmt.Errorf("get award: %w", err)
	}
	return rec.award(), nil
}

func (r repo) AddUserAchievement(ctx context.Context, award domain.UserAchievement) error {
	rec := &userAchievementRecord{
		ID:            award.ID,
		UserID:        award.UserID,
		AchievementID: award.AchievementID,
		AwardedAt:     award.AwardedAt,
	}
	if _, err := r.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("add award: %w", translate(err))
	}
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// translate maps constraint violations onto the domain taxonomy.
func sqlState(err error) string {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return ""
	}
	return pgErr.Field('C')
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Field('C') {
	case sqlStateUniqueViolation:
		return fmt.Errorf("%s: %w", pgErr.Field('n'), domain.ErrConflict)
	case sqlStateForeignKeyViolation:
		return fmt.Errorf("%s: %w", pgErr.Field('n'), domain.ErrNotFound)
	case sqlStateCheckViolation:
		return fmt.Errorf("%s: %w", pgErr.Field('n'), domain.ErrValidation)
	}
	return err
}
