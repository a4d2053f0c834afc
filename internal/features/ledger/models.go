// Package ledger управляет счетами пользователей и журналом движений беситос.
// models.go описывает структуры данных леджера.
package ledger

import (
	"strings"
	"time"
)

// Category — стабильный идентификатор категории движения.
// Префикс несёт смысл и используется в отчётности:
// EARN_ — начисления (положительные суммы), SPEND_ — списания (отрицательные).
type Category string

const (
	CategoryEarnReaction Category = "EARN_REACTION"
	CategoryEarnDaily    Category = "EARN_DAILY"
	CategoryEarnReward   Category = "EARN_REWARD"
	CategoryEarnAdmin    Category = "EARN_ADMIN"
	CategorySpendShop    Category = "SPEND_SHOP"
	CategorySpendAdmin   Category = "SPEND_ADMIN"
)

// IsEarn сообщает, является ли категория начислением.
func (c Category) IsEarn() bool {
	return strings.HasPrefix(string(c), "EARN_")
}

// IsSpend сообщает, является ли категория списанием.
func (c Category) IsSpend() bool {
	return strings.HasPrefix(string(c), "SPEND_")
}

// Metadata — структурированные данные записи леджера, хранятся как JSONB.
type Metadata map[string]any

// Account представляет экономическое состояние пользователя.
// Инвариант: Balance всегда >= 0 и равен сумме всех записей леджера.
type Account struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Balance     int64     `db:"balance"`
	TotalEarned int64     `db:"total_earned"`
	TotalSpent  int64     `db:"total_spent"`
	Level       int       `db:"level"` // Кэшированный уровень, >= 1
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Entry — одно атомарное движение беситос. Записи неизменяемы:
// после вставки они никогда не обновляются и не удаляются.
type Entry struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Amount    int64     `db:"amount"` // Со знаком: списания хранятся отрицательными
	Category  Category  `db:"category"`
	Reason    string    `db:"reason"`
	Metadata  Metadata  `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// EarnResult — результат начисления: запись плюс смена уровня,
// чтобы вызывающая сторона могла поднять событие level_up.
type EarnResult struct {
	Entry    *Entry
	Balance  int64
	OldLevel int
	NewLevel int
}

// LeveledUp сообщает, вырос ли уровень в результате начисления.
func (r *EarnResult) LeveledUp() bool {
	return r.NewLevel > r.OldLevel
}
