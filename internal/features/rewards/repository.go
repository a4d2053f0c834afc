// Package rewards — repository.go выполняет операции с таблицами
// reward_definitions, reward_conditions и user_reward_states.
//
// Каждый переход машины состояний — условная запись: WHERE проверяет
// текущий статус (и, где нужно, границу окна), ноль изменённых строк
// означает проигрыш конкурентной гонки.
package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/besitos-bot/internal/common"
)

// Repository предоставляет методы для работы с таблицами движка наград.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий наград.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const definitionColumns = `id, name, description, payout_kind, payout_payload, repeatable, secret, claim_window_seconds, active, display_order`

func scanDefinition(row pgx.Row) (*Definition, error) {
	var d Definition
	var payloadJSON []byte
	var windowSeconds int64
	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &d.PayoutKind, &payloadJSON,
		&d.Repeatable, &d.Secret, &windowSeconds, &d.Active, &d.DisplayOrder,
	)
	if err != nil {
		return nil, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &d.Payout); err != nil {
			return nil, fmt.Errorf("ошибка чтения payload награды %d: %w", d.ID, err)
		}
	}
	d.ClaimWindow = time.Duration(windowSeconds) * time.Second
	return &d, nil
}

// ActiveDefinitions возвращает все активные награды вместе с условиями.
func (r *Repository) ActiveDefinitions(ctx context.Context) ([]*Definition, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+definitionColumns+` FROM reward_definitions WHERE active ORDER BY display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения наград: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	byID := make(map[int64]*Definition)
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования награды: %w", err)
		}
		defs = append(defs, d)
		byID[d.ID] = d
	}
	if len(defs) == 0 {
		return nil, nil
	}

	condRows, err := r.db.Query(ctx, `
		SELECT c.id, c.reward_id, c.kind, c.value, c.group_num
		FROM reward_conditions c
		JOIN reward_definitions d ON d.id = c.reward_id
		WHERE d.active
		ORDER BY c.reward_id, c.group_num, c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения условий: %w", err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var c Condition
		if err := condRows.Scan(&c.ID, &c.RewardID, &c.Kind, &c.Value, &c.GroupNum); err != nil {
			return nil, fmt.Errorf("ошибка сканирования условия: %w", err)
		}
		if d, ok := byID[c.RewardID]; ok {
			d.Conditions = append(d.Conditions, c)
		}
	}
	return defs, nil
}

// Definition возвращает награду по id вместе с условиями.
func (r *Repository) Definition(ctx context.Context, rewardID int64) (*Definition, error) {
	d, err := scanDefinition(r.db.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM reward_definitions WHERE id = $1`, rewardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrRewardNotFound
		}
		return nil, fmt.Errorf("ошибка получения награды: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, reward_id, kind, value, group_num
		FROM reward_conditions WHERE reward_id = $1
		ORDER BY group_num, id
	`, rewardID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения условий: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Condition
		if err := rows.Scan(&c.ID, &c.RewardID, &c.Kind, &c.Value, &c.GroupNum); err != nil {
			return nil, fmt.Errorf("ошибка сканирования условия: %w", err)
		}
		d.Conditions = append(d.Conditions, c)
	}
	return d, nil
}

// CreateDefinition добавляет награду (админский ввод или сиды).
func (r *Repository) CreateDefinition(ctx context.Context, d *Definition) (int64, error) {
	payloadJSON, err := json.Marshal(d.Payout)
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации payload: %w", err)
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO reward_definitions
			(name, description, payout_kind, payout_payload, repeatable, secret, claim_window_seconds, active, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, d.Name, d.Description, d.PayoutKind, payloadJSON, d.Repeatable, d.Secret,
		int64(d.ClaimWindow.Seconds()), d.Active, d.DisplayOrder,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания награды: %w", err)
	}
	return id, nil
}

// AddCondition добавляет условие к награде.
func (r *Repository) AddCondition(ctx context.Context, c *Condition) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO reward_conditions (reward_id, kind, value, group_num)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.RewardID, c.Kind, c.Value, c.GroupNum).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания условия: %w", err)
	}
	return id, nil
}

const stateColumns = `id, user_id, reward_id, status, unlocked_at, expires_at, claimed_at, last_claimed_at, claim_count, created_at, updated_at`

func scanUserState(row pgx.Row) (*UserState, error) {
	var u UserState
	err := row.Scan(
		&u.ID, &u.UserID, &u.RewardID, &u.Status, &u.UnlockedAt, &u.ExpiresAt,
		&u.ClaimedAt, &u.LastClaimedAt, &u.ClaimCount, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureState лениво создаёт запись прогресса со статусом LOCKED.
func (r *Repository) EnsureState(ctx context.Context, userID, rewardID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_reward_states (user_id, reward_id, status, claim_count)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, reward_id) DO NOTHING
	`, userID, rewardID, StatusLocked)
	if err != nil {
		return fmt.Errorf("ошибка создания прогресса награды: %w", err)
	}
	return nil
}

// State возвращает запись прогресса.
func (r *Repository) State(ctx context.Context, userID, rewardID int64) (*UserState, error) {
	u, err := scanUserState(r.db.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM user_reward_states WHERE user_id = $1 AND reward_id = $2`,
		userID, rewardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrRewardNotFound
		}
		return nil, fmt.Errorf("ошибка получения прогресса: %w", err)
	}
	return u, nil
}

// Unlock переводит запись в UNLOCKED из любого из статусов from,
// проставляя свежее окно получения. false — статус уже изменился.
func (r *Repository) Unlock(ctx context.Context, userID, rewardID int64, from []Status, now, expires time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE user_reward_states
		SET status = $3, unlocked_at = $4, expires_at = $5, updated_at = NOW()
		WHERE user_id = $1 AND reward_id = $2 AND status = ANY($6)
	`, userID, rewardID, StatusUnlocked, now, expires, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("ошибка разблокировки награды: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpired помечает UNLOCKED-запись с истёкшим окном как EXPIRED.
func (r *Repository) MarkExpired(ctx context.Context, userID, rewardID int64, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE user_reward_states
		SET status = $3, updated_at = NOW()
		WHERE user_id = $1 AND reward_id = $2
		  AND status = $4 AND expires_at IS NOT NULL AND expires_at <= $5
	`, userID, rewardID, StatusExpired, StatusUnlocked, now)
	if err != nil {
		return false, fmt.Errorf("ошибка пометки истечения: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimTransition — атомарный переход UNLOCKED → CLAIMED до истечения
// окна. Из двух одновременных получений выигрывает ровно одно.
func (r *Repository) ClaimTransition(ctx context.Context, userID, rewardID int64, now time.Time) (*UserState, bool, error) {
	u, err := scanUserState(r.db.QueryRow(ctx, `
		UPDATE user_reward_states
		SET status = $3, claimed_at = $4, last_claimed_at = $4,
		    claim_count = claim_count + 1, updated_at = NOW()
		WHERE user_id = $1 AND reward_id = $2
		  AND status = $5 AND (expires_at IS NULL OR expires_at > $4)
		RETURNING `+stateColumns,
		userID, rewardID, StatusClaimed, now, StatusUnlocked))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка перехода получения: %w", err)
	}
	return u, true, nil
}

// RevertClaim — компенсирующий откат получения, если выплата не прошла.
// Возвращает запись в UNLOCKED и восстанавливает счётчик, чтобы
// пользователь мог безопасно повторить попытку.
func (r *Repository) RevertClaim(ctx context.Context, userID, rewardID int64, prev *UserState) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_reward_states
		SET status = $3, claimed_at = $4, last_claimed_at = $5,
		    claim_count = $6, updated_at = NOW()
		WHERE user_id = $1 AND reward_id = $2 AND status = $7
	`, userID, rewardID, StatusUnlocked, prev.ClaimedAt, prev.LastClaimedAt,
		prev.ClaimCount, StatusClaimed)
	if err != nil {
		return fmt.Errorf("ошибка отката получения: %w", err)
	}
	return nil
}

// SetAfterClaim переводит только что полученную (CLAIMED) награду
// в UNLOCKED (повторяемая, условия всё ещё выполнены) или LOCKED.
func (r *Repository) SetAfterClaim(ctx context.Context, userID, rewardID int64, to Status, now time.Time, expires *time.Time) error {
	var unlockedAt *time.Time
	if to == StatusUnlocked {
		unlockedAt = &now
	}
	_, err := r.db.Exec(ctx, `
		UPDATE user_reward_states
		SET status = $3, unlocked_at = $4, expires_at = $5, updated_at = NOW()
		WHERE user_id = $1 AND reward_id = $2 AND status = $6
	`, userID, rewardID, to, unlockedAt, expires, StatusClaimed)
	if err != nil {
		return fmt.Errorf("ошибка переоткрытия награды: %w", err)
	}
	return nil
}

// ExpireOverdueWindows — фоновая зачистка: все UNLOCKED-записи с
// истёкшим окном помечаются EXPIRED. Идемпотентна.
func (r *Repository) ExpireOverdueWindows(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE user_reward_states
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3
	`, StatusExpired, StatusUnlocked, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка зачистки окон: %w", err)
	}
	return tag.RowsAffected(), nil
}

// statusStrings конвертирует статусы для ANY($n).
func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
