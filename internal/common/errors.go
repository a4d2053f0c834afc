// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях экономики.
// Каждая проваленная предпосылка возвращается как одна из этих ошибок,
// паники и исключения для управления потоком не используются.
package common

import "errors"

// Ошибки леджера (беситос, начисления и списания)
var (
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInsufficientFunds — недостаточно беситос на счёте
	ErrInsufficientFunds = errors.New("недостаточно беситос на счёте")
	// ErrNoAccount — пользователь ещё ничего не заработал, счёта нет
	ErrNoAccount = errors.New("счёт не найден")
)

// Ошибки стриков
var (
	// ErrAlreadyClaimedToday — ежедневный подарок уже получен сегодня.
	// Так же сообщается проигравшему при одновременных попытках.
	ErrAlreadyClaimedToday = errors.New("ежедневный подарок уже получен сегодня")
	// ErrStreakNotFound — запись стрика не найдена
	ErrStreakNotFound = errors.New("стрик не найден")
)

// Ошибки движка наград
var (
	// ErrRewardNotFound — награда с таким id не существует
	ErrRewardNotFound = errors.New("награда не найдена")
	// ErrRewardInactive — награда отключена администратором
	ErrRewardInactive = errors.New("награда неактивна")
	// ErrRewardLocked — условия награды ещё не выполнены
	ErrRewardLocked = errors.New("награда ещё заблокирована")
	// ErrRewardExpired — окно получения награды истекло
	ErrRewardExpired = errors.New("окно получения награды истекло")
	// ErrAlreadyClaimed — неповторяемая награда уже получена
	ErrAlreadyClaimed = errors.New("награда уже получена")
)

// Ошибки участников и магазина
var (
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrSelfReaction — попытка поставить реакцию самому себе
	ErrSelfReaction = errors.New("нельзя ставить реакцию самому себе")
	// ErrItemNotFound — позиция магазина не существует
	ErrItemNotFound = errors.New("позиция магазина не найдена")
	// ErrItemInactive — позиция магазина снята с продажи
	ErrItemInactive = errors.New("позиция магазина неактивна")
)
