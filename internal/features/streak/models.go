// Package streak управляет сериями ежедневной активности пользователей.
// models.go описывает структуры данных стриков.
package streak

import "time"

// Kind — вид стрика.
type Kind string

const (
	// KindDailyGift — серия явных получений ежедневного подарка.
	KindDailyGift Kind = "DAILY_GIFT"
	// KindReaction — серия дней с хотя бы одной реакцией (пассивная активность).
	KindReaction Kind = "REACTION"
)

// State представляет запись стрика (пользователь, вид).
// LongestLength — бегущий максимум, он никогда не уменьшается.
type State struct {
	ID              int64      `db:"id"`
	UserID          int64      `db:"user_id"`
	Kind            Kind       `db:"kind"`
	CurrentLength   int        `db:"current_length"`
	LongestLength   int        `db:"longest_length"`
	LastClaimDay    *time.Time `db:"last_claim_day"`    // Дата (UTC) последнего подарка
	LastActivityDay *time.Time `db:"last_activity_day"` // Дата (UTC) последней активности
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Info — сводка стрика для отображения.
type Info struct {
	CurrentLength int
	LongestLength int
	LastActivity  *time.Time
	CanClaim      bool       // Только для DAILY_GIFT
	NextClaimTime *time.Time // Ближайшая UTC-полночь, если сегодня уже получено
}

// ClaimResult — разбивка выплаты за ежедневный подарок.
type ClaimResult struct {
	StreakDay int   // Новая длина серии
	Base      int64 // Базовая часть выплаты
	Bonus     int64 // Бонус за длину серии (с потолком)
	Total     int64 // Base + Bonus, зачислено на счёт
	Balance   int64 // Баланс после зачисления
	LeveledUp bool  // Выросло ли значение уровня после зачисления
	NewLevel  int   // Уровень после зачисления (для события level_up)
}

// ReactionResult — итог учёта реакции за день.
type ReactionResult struct {
	Incremented   bool // false, если активность в этот день уже была
	CurrentLength int
}
