// Package ledger — repository.go выполняет все операции с таблицами
// accounts и ledger_entries.
//
// Дисциплина конкурентности: каждая инвариантная проверка («баланс не
// уходит в минус») выражена как условие WHERE самой записи. Ноль
// изменённых строк — штатный сигнал, что конкурент выиграл гонку,
// а не ошибка системы.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/besitos-bot/internal/common"
)

// Repository предоставляет методы для работы со счетами и журналом.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий леджера.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const accountColumns = `id, user_id, balance, total_earned, total_spent, level, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.Balance, &a.TotalEarned, &a.TotalSpent,
		&a.Level, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Earn атомарно начисляет amount на счёт и добавляет запись журнала.
// Счёт создаётся лениво: upsert складывает создание и инкремент
// в одну атомарную запись, отдельной проверки существования нет.
func (r *Repository) Earn(ctx context.Context, userID, amount int64, category Category, reason string, meta Metadata) (*Entry, *Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := scanAccount(tx.QueryRow(ctx, `
		INSERT INTO accounts (user_id, balance, total_earned, total_spent, level)
		VALUES ($1, $2, $2, 0, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = accounts.balance + $2,
		    total_earned = accounts.total_earned + $2,
		    updated_at = NOW()
		RETURNING `+accountColumns,
		userID, amount))
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка начисления: %w", err)
	}

	entry, err := insertEntry(ctx, tx, userID, amount, category, reason, meta)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return entry, account, nil
}

// Spend атомарно списывает amount со счёта и добавляет отрицательную
// запись журнала. Проверка достаточности баланса — часть самого UPDATE:
// при недостатке средств (или одновременном конкуренте) строка не
// изменится, и мы вернём ErrInsufficientFunds без каких-либо записей.
func (r *Repository) Spend(ctx context.Context, userID, amount int64, category Category, reason string, meta Metadata) (*Entry, *Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $2,
		    total_spent = total_spent + $2,
		    updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING `+accountColumns,
		userID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Ноль строк: либо счёта нет, либо не хватило баланса.
			var exists bool
			if err := r.db.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)`, userID,
			).Scan(&exists); err != nil {
				return nil, nil, fmt.Errorf("ошибка проверки счёта: %w", err)
			}
			if !exists {
				return nil, nil, common.ErrNoAccount
			}
			return nil, nil, common.ErrInsufficientFunds
		}
		return nil, nil, fmt.Errorf("ошибка списания: %w", err)
	}

	entry, err := insertEntry(ctx, tx, userID, -amount, category, reason, meta)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return entry, account, nil
}

// insertEntry добавляет запись журнала внутри открытой транзакции.
func insertEntry(ctx context.Context, tx pgx.Tx, userID, amount int64, category Category, reason string, meta Metadata) (*Entry, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	e := Entry{
		UserID:   userID,
		Amount:   amount,
		Category: category,
		Reason:   reason,
		Metadata: meta,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, amount, category, reason, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, userID, amount, category, reason, metaJSON).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	return &e, nil
}

// Account возвращает счёт пользователя.
func (r *Repository) Account(ctx context.Context, userID int64) (*Account, error) {
	account, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNoAccount
		}
		return nil, fmt.Errorf("ошибка получения счёта: %w", err)
	}
	return account, nil
}

// UpdateLevel обновляет кэшированный уровень, если он изменился.
func (r *Repository) UpdateLevel(ctx context.Context, userID int64, level int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET level = $2, updated_at = NOW()
		WHERE user_id = $1 AND level <> $2
	`, userID, level)
	if err != nil {
		return fmt.Errorf("ошибка обновления уровня: %w", err)
	}
	return nil
}

// History возвращает страницу журнала (новые записи первыми) и общее
// число записей. category — необязательный фильтр, пустая строка = все.
func (r *Repository) History(ctx context.Context, userID int64, page, pageSize int, category Category) ([]*Entry, int64, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var total int64
	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`
	args := []any{userID}
	if category != "" {
		countQuery += ` AND category = $2`
		args = append(args, category)
	}
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	query := `
		SELECT id, user_id, amount, category, reason, metadata, created_at
		FROM ledger_entries
		WHERE user_id = $1`
	if category != "" {
		query += ` AND category = $2`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, pageSize, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения журнала: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Category, &e.Reason, &metaJSON, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("ошибка чтения метаданных: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, total, nil
}

// HasCategory сообщает, есть ли у пользователя хотя бы одна запись
// данной категории. Используется движком наград для условий «первый раз».
func (r *Repository) HasCategory(ctx context.Context, userID int64, category Category) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE user_id = $1 AND category = $2)`,
		userID, category,
	).Scan(&exists)
	return exists, err
}

// HasReason сообщает, есть ли запись данной категории с точным reason.
// Нужен магазину: повторный автоматический возврат за ту же попытку
// покупки должен быть no-op.
func (r *Repository) HasReason(ctx context.Context, userID int64, category Category, reason string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE user_id = $1 AND category = $2 AND reason = $3)`,
		userID, category, reason,
	).Scan(&exists)
	return exists, err
}
