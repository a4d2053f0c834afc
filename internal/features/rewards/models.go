// Package rewards реализует движок наград: определения с деревьями
// условий, машину состояний получения и выплаты с потолками.
// models.go описывает структуры данных движка.
package rewards

import (
	"sort"
	"time"
)

// PayoutKind — вид выплаты награды.
type PayoutKind string

const (
	PayoutBesitos      PayoutKind = "BESITOS"       // Начисление беситос через леджер
	PayoutContent      PayoutKind = "CONTENT"       // Доступ к разблокируемому контенту
	PayoutBadge        PayoutKind = "BADGE"         // Чисто информационный значок
	PayoutVIPExtension PayoutKind = "VIP_EXTENSION" // Продление VIP-членства
)

// Status — состояние награды для конкретного пользователя.
type Status string

const (
	StatusLocked   Status = "LOCKED"
	StatusUnlocked Status = "UNLOCKED"
	StatusClaimed  Status = "CLAIMED"
	StatusExpired  Status = "EXPIRED"
)

// statusPriority — порядок сортировки списка наград:
// сначала доступные к получению, затем ещё закрытые, затем полученные.
var statusPriority = map[Status]int{
	StatusUnlocked: 0,
	StatusLocked:   1,
	StatusClaimed:  2,
	StatusExpired:  3,
}

// EventType — доменное событие, поднимаемое коллабораторами.
type EventType string

const (
	EventDailyGiftClaimed  EventType = "daily_gift_claimed"
	EventReactionAdded     EventType = "reaction_added"
	EventPurchaseCompleted EventType = "purchase_completed"
	EventLevelUp           EventType = "level_up"
	EventStreakUpdated     EventType = "streak_updated"
)

// ConditionKind — вид условия награды.
type ConditionKind string

const (
	// Числовые условия (требуют порогового значения)
	CondStreakLength ConditionKind = "STREAK_LENGTH" // Текущая серия DAILY_GIFT >= value
	CondTotalPoints  ConditionKind = "TOTAL_POINTS"  // total_earned >= value
	CondLevelReached ConditionKind = "LEVEL_REACHED" // Уровень >= value
	CondBesitosSpent ConditionKind = "BESITOS_SPENT" // total_spent >= value

	// Событийные условия (булевы, без значения)
	CondFirstPurchase  ConditionKind = "FIRST_PURCHASE"
	CondFirstDailyGift ConditionKind = "FIRST_DAILY_GIFT"
	CondFirstReaction  ConditionKind = "FIRST_REACTION"

	// Исключающие условия («истина» = пользователь НЕ исключён)
	CondNotVIP           ConditionKind = "NOT_VIP"
	CondNotClaimedBefore ConditionKind = "NOT_CLAIMED_BEFORE"
)

// PayoutPayload — параметры выплаты, хранятся как JSONB.
// Заполняются поля, относящиеся к виду выплаты.
type PayoutPayload struct {
	Amount     int64  `json:"amount,omitempty"`      // BESITOS
	Days       int    `json:"days,omitempty"`        // VIP_EXTENSION
	ContentKey string `json:"content_key,omitempty"` // CONTENT
	Badge      string `json:"badge,omitempty"`       // BADGE
}

// Definition — шаблон награды, создаваемый администратором.
type Definition struct {
	ID           int64         `db:"id"`
	Name         string        `db:"name"`
	Description  string        `db:"description"`
	PayoutKind   PayoutKind    `db:"payout_kind"`
	Payout       PayoutPayload `db:"payout_payload"`
	Repeatable   bool          `db:"repeatable"`
	Secret       bool          `db:"secret"`
	ClaimWindow  time.Duration `db:"claim_window"` // 0 — окно по умолчанию из конфига
	Active       bool          `db:"active"`
	DisplayOrder int           `db:"display_order"`
	Conditions   []Condition   // Загружаются вместе с определением
}

// Condition — один предикат награды.
// GroupNum кодирует логику в хранилище: 0 — общая AND-группа,
// любое другое число — независимая OR-корзина. В коде это число
// сразу разворачивается в тегированную структуру ConditionGroup.
type Condition struct {
	ID       int64         `db:"id"`
	RewardID int64         `db:"reward_id"`
	Kind     ConditionKind `db:"kind"`
	Value    *int64        `db:"value"` // Порог числовых условий, nil для булевых
	GroupNum int           `db:"group_num"`
}

// GroupLogic — логика группы условий.
type GroupLogic string

const (
	LogicAnd GroupLogic = "AND"
	LogicOr  GroupLogic = "OR"
)

// ConditionGroup — явная тегированная форма группы условий:
// либо одна AND-группа (все условия обязаны пройти), либо OR-корзина
// (достаточно одного). Конвенция «0 значит AND» живёт только здесь.
type ConditionGroup struct {
	Logic      GroupLogic
	GroupID    int // 0 для AND-группы
	Conditions []Condition
}

// GroupConditions разворачивает плоский список условий в группы:
// первая — AND-группа (может быть пустой и тогда опускается),
// дальше OR-корзины в порядке их номеров.
func GroupConditions(conditions []Condition) []ConditionGroup {
	byGroup := make(map[int][]Condition)
	for _, c := range conditions {
		byGroup[c.GroupNum] = append(byGroup[c.GroupNum], c)
	}

	var groups []ConditionGroup
	if and, ok := byGroup[0]; ok {
		groups = append(groups, ConditionGroup{Logic: LogicAnd, GroupID: 0, Conditions: and})
	}

	var orIDs []int
	for id := range byGroup {
		if id != 0 {
			orIDs = append(orIDs, id)
		}
	}
	sort.Ints(orIDs)
	for _, id := range orIDs {
		groups = append(groups, ConditionGroup{Logic: LogicOr, GroupID: id, Conditions: byGroup[id]})
	}
	return groups
}

// UserState — запись прогресса (пользователь, награда).
// Создаётся лениво со статусом LOCKED при первой оценке.
type UserState struct {
	ID            int64      `db:"id"`
	UserID        int64      `db:"user_id"`
	RewardID      int64      `db:"reward_id"`
	Status        Status     `db:"status"`
	UnlockedAt    *time.Time `db:"unlocked_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
	ClaimedAt     *time.Time `db:"claimed_at"`
	LastClaimedAt *time.Time `db:"last_claimed_at"`
	ClaimCount    int        `db:"claim_count"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// windowElapsed сообщает, истекло ли окно получения к моменту now.
func (u *UserState) windowElapsed(now time.Time) bool {
	return u.Status == StatusUnlocked && u.ExpiresAt != nil && !u.ExpiresAt.After(now)
}

// ClaimPayout — результат успешного получения награды.
type ClaimPayout struct {
	RewardID   int64
	Name       string
	Kind       PayoutKind
	Amount     int64      // Начислено беситос (после потолка)
	Days       int        // Продление VIP в днях (после потолка)
	VIPUntil   *time.Time // Новый срок VIP-членства
	ContentKey string
	Badge      string
	WasCapped  bool // Выплата была срезана потолком
	Reopened   bool // Повторяемая награда снова открыта
}

// Progress — прогресс одного условия для отображения.
type Progress struct {
	Kind     ConditionKind
	GroupID  int
	Logic    GroupLogic
	Current  int64
	Required int64
	Passed   bool
}

// Listed — элемент списка доступных наград.
type Listed struct {
	Definition *Definition
	State      *UserState
	Progress   []Progress
}
