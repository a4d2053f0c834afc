// Package streak — repository.go выполняет операции с таблицей streak_states.
//
// Смена состояния дня — всегда одна условная запись: WHERE требует,
// что «этот день ещё не засчитан». Ноль изменённых строк означает,
// что конкурентный запрос успел раньше.
package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/besitos-bot/internal/common"
)

// Repository предоставляет методы для работы с таблицей streak_states.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий стриков.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const stateColumns = `id, user_id, kind, current_length, longest_length, last_claim_day, last_activity_day, created_at, updated_at`

func scanState(row pgx.Row) (*State, error) {
	var s State
	err := row.Scan(
		&s.ID, &s.UserID, &s.Kind, &s.CurrentLength, &s.LongestLength,
		&s.LastClaimDay, &s.LastActivityDay, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Ensure создаёт запись стрика, если её ещё нет (ленивое создание).
func (r *Repository) Ensure(ctx context.Context, userID int64, kind Kind) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO streak_states (user_id, kind, current_length, longest_length)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (user_id, kind) DO NOTHING
	`, userID, kind)
	if err != nil {
		return fmt.Errorf("ошибка создания стрика: %w", err)
	}
	return nil
}

// Get возвращает стрик пользователя данного вида.
func (r *Repository) Get(ctx context.Context, userID int64, kind Kind) (*State, error) {
	state, err := scanState(r.db.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM streak_states WHERE user_id = $1 AND kind = $2`,
		userID, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrStreakNotFound
		}
		return nil, fmt.Errorf("ошибка получения стрика: %w", err)
	}
	return state, nil
}

// AdvanceClaim записывает получение подарка за день today с новой длиной
// newLength. Условие «сегодня ещё не получали» — в самом UPDATE, поэтому
// из двух одновременных попыток пройдёт ровно одна.
// LongestLength обновляется бегущим максимумом и никогда не уменьшается.
func (r *Repository) AdvanceClaim(ctx context.Context, userID int64, newLength int, today time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE streak_states
		SET current_length = $3,
		    longest_length = GREATEST(longest_length, $3),
		    last_claim_day = $4,
		    last_activity_day = $4,
		    updated_at = NOW()
		WHERE user_id = $1 AND kind = $2
		  AND (last_claim_day IS NULL OR last_claim_day < $4)
	`, userID, KindDailyGift, newLength, today)
	if err != nil {
		return false, fmt.Errorf("ошибка записи подарка: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevertClaim откатывает запись сегодняшнего подарка, если выплата по
// нему не прошла: возвращает прежние длину и дни одной условной записью.
// WHERE требует, что сегодняшний день всё ещё записан, поэтому откат
// после успешного повтора (или повторный откат) ничего не изменит.
func (r *Repository) RevertClaim(ctx context.Context, userID int64, prev *State, today time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE streak_states
		SET current_length = $3,
		    longest_length = $4,
		    last_claim_day = $5,
		    last_activity_day = $6,
		    updated_at = NOW()
		WHERE user_id = $1 AND kind = $2 AND last_claim_day = $7
	`, userID, KindDailyGift, prev.CurrentLength, prev.LongestLength,
		prev.LastClaimDay, prev.LastActivityDay, today)
	if err != nil {
		return false, fmt.Errorf("ошибка отката подарка: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceActivity записывает активность за день today с новой длиной.
// Повтор в тот же день не изменит строку (ноль строк → false).
func (r *Repository) AdvanceActivity(ctx context.Context, userID int64, kind Kind, newLength int, today time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE streak_states
		SET current_length = $3,
		    longest_length = GREATEST(longest_length, $3),
		    last_activity_day = $4,
		    updated_at = NOW()
		WHERE user_id = $1 AND kind = $2
		  AND (last_activity_day IS NULL OR last_activity_day < $4)
	`, userID, kind, newLength, today)
	if err != nil {
		return false, fmt.Errorf("ошибка записи активности: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reset обнуляет текущую серию (ручной сброс администратором).
// Рекорд longest_length не трогаем.
func (r *Repository) Reset(ctx context.Context, userID int64, kind Kind) error {
	_, err := r.db.Exec(ctx, `
		UPDATE streak_states SET current_length = 0, updated_at = NOW()
		WHERE user_id = $1 AND kind = $2
	`, userID, kind)
	if err != nil {
		return fmt.Errorf("ошибка сброса стрика: %w", err)
	}
	return nil
}

// ExpireMissed обнуляет текущие серии всех, у кого релевантный день
// (подарок для DAILY_GIFT, активность для REACTION) строго раньше
// вчерашнего: день прошёл целиком без действия, серия прервана.
// Повторный запуск ничего не меняет — зачистка идемпотентна.
func (r *Repository) ExpireMissed(ctx context.Context, kind Kind, today time.Time) (int64, error) {
	dayColumn := "last_activity_day"
	if kind == KindDailyGift {
		dayColumn = "last_claim_day"
	}
	yesterday := today.AddDate(0, 0, -1)

	tag, err := r.db.Exec(ctx, `
		UPDATE streak_states
		SET current_length = 0, updated_at = NOW()
		WHERE kind = $1 AND current_length > 0 AND `+dayColumn+` < $2
	`, kind, yesterday)
	if err != nil {
		return 0, fmt.Errorf("ошибка зачистки стриков: %w", err)
	}
	return tag.RowsAffected(), nil
}
