// Package members — repository.go выполняет операции с таблицами
// members и content_grants.
package members

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/besitos-bot/internal/common"
)

// Repository предоставляет методы для работы с участниками.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий участников.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const memberColumns = `id, user_id, username, first_name, last_name, role, vip_expires_at, created_at, updated_at`

// Upsert регистрирует участника или обновляет его данные при возвращении.
func (r *Repository) Upsert(ctx context.Context, userID int64, username, firstName, lastName string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO members (user_id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = $2, first_name = $3, last_name = $4, updated_at = NOW()
	`, userID, username, firstName, lastName)
	if err != nil {
		return fmt.Errorf("ошибка регистрации участника: %w", err)
	}
	return nil
}

// GetByUserID возвращает участника по его user ID.
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	var m Member
	err := r.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID,
	).Scan(
		&m.ID, &m.UserID, &m.Username, &m.FirstName, &m.LastName,
		&m.Role, &m.VIPExpiresAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения участника: %w", err)
	}
	return &m, nil
}

// SetRole назначает роль участнику (nil снимает роль).
func (r *Repository) SetRole(ctx context.Context, userID int64, role *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE members SET role = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, role)
	if err != nil {
		return fmt.Errorf("ошибка назначения роли: %w", err)
	}
	return nil
}

// ExtendVIP продлевает VIP-членство на days дней одной атомарной записью:
// нет членства или истекло — отсчёт от NOW(), действует — прибавка к
// текущему сроку. Участник создаётся лениво, если его ещё нет.
func (r *Repository) ExtendVIP(ctx context.Context, userID int64, days int) (time.Time, error) {
	var expires time.Time
	err := r.db.QueryRow(ctx, `
		INSERT INTO members (user_id, username, first_name, last_name, vip_expires_at)
		VALUES ($1, '', '', '', NOW() + make_interval(days => $2))
		ON CONFLICT (user_id) DO UPDATE
		SET vip_expires_at = CASE
			WHEN members.vip_expires_at IS NULL OR members.vip_expires_at <= NOW()
				THEN NOW() + make_interval(days => $2)
			ELSE members.vip_expires_at + make_interval(days => $2)
		END,
		updated_at = NOW()
		RETURNING vip_expires_at
	`, userID, days).Scan(&expires)
	if err != nil {
		return time.Time{}, fmt.Errorf("ошибка продления VIP: %w", err)
	}
	return expires, nil
}

// GrantContent выдаёт доступ к контенту. Повторная выдача — no-op.
func (r *Repository) GrantContent(ctx context.Context, userID int64, contentKey string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO content_grants (user_id, content_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, content_key) DO NOTHING
	`, userID, contentKey)
	if err != nil {
		return fmt.Errorf("ошибка выдачи доступа: %w", err)
	}
	return nil
}

// ContentGrants возвращает весь выданный пользователю контент, новые первыми.
func (r *Repository) ContentGrants(ctx context.Context, userID int64) ([]ContentGrant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, content_key, created_at
		FROM content_grants
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выданного контента: %w", err)
	}
	defer rows.Close()

	var grants []ContentGrant
	for rows.Next() {
		var g ContentGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.ContentKey, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения выданного контента: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// HasContent сообщает, выдан ли пользователю доступ к контенту.
func (r *Repository) HasContent(ctx context.Context, userID int64, contentKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM content_grants WHERE user_id = $1 AND content_key = $2)`,
		userID, contentKey,
	).Scan(&exists)
	return exists, err
}
