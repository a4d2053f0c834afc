// Package reactions начисляет беситос за реакции на сообщения:
// автор сообщения получает вознаграждение, его серия реакций
// продвигается, движок наград пересчитывается по событиям.
package reactions

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/common"
	"serotonyl.ru/besitos-bot/internal/config"
	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/features/rewards"
	"serotonyl.ru/besitos-bot/internal/features/streak"
)

// Ledger — леджер глазами сервиса реакций.
type Ledger interface {
	Earn(ctx context.Context, userID, amount int64, category ledger.Category, reason string, meta ledger.Metadata) (*ledger.EarnResult, error)
}

// Streaks — трекер серий глазами сервиса реакций.
type Streaks interface {
	RecordReaction(ctx context.Context, userID int64, when time.Time) (*streak.ReactionResult, error)
}

// RewardEngine — движок наград глазами сервиса реакций.
type RewardEngine interface {
	CheckRewardsOnEvent(ctx context.Context, userID int64, event rewards.EventType) ([]*rewards.Definition, error)
}

// Service обрабатывает реакции.
type Service struct {
	ledger  Ledger
	streaks Streaks
	rewards RewardEngine
	cfg     *config.Config
}

// NewService создаёт новый сервис реакций.
func NewService(ledgerSvc Ledger, streakSvc Streaks, rewardSvc RewardEngine, cfg *config.Config) *Service {
	return &Service{ledger: ledgerSvc, streaks: streakSvc, rewards: rewardSvc, cfg: cfg}
}

// Result — итог обработки реакции.
type Result struct {
	Amount       int64                 // Начислено автору сообщения
	Balance      int64                 // Баланс автора после начисления
	StreakLength int                   // Серия реакций автора
	LeveledUp    bool                  // Автор поднялся в уровне
	NewLevel     int                   // Уровень автора после начисления
	Unlocked     []*rewards.Definition // Свежеразблокированные награды
}

// HandleReaction обрабатывает реакцию пользователя reactorID на
// сообщение автора authorID. Реакция на собственное сообщение
// не вознаграждается.
func (s *Service) HandleReaction(ctx context.Context, reactorID, authorID int64) (*Result, error) {
	if reactorID == authorID {
		return nil, common.ErrSelfReaction
	}

	earn, err := s.ledger.Earn(ctx, authorID, s.cfg.ReactionReward,
		ledger.CategoryEarnReaction, "Реакция на сообщение",
		ledger.Metadata{"reactor_id": reactorID})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reaction, err := s.streaks.RecordReaction(ctx, authorID, now)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Amount:       earn.Entry.Amount,
		Balance:      earn.Balance,
		StreakLength: reaction.CurrentLength,
		LeveledUp:    earn.LeveledUp(),
		NewLevel:     earn.NewLevel,
	}

	// Пересчёт наград по всем затронутым событиям; набор
	// разблокировок сворачивается в один список для уведомления.
	events := []rewards.EventType{rewards.EventReactionAdded}
	if reaction.Incremented {
		events = append(events, rewards.EventStreakUpdated)
	}
	if earn.LeveledUp() {
		events = append(events, rewards.EventLevelUp)
	}
	for _, ev := range events {
		unlocked, err := s.rewards.CheckRewardsOnEvent(ctx, authorID, ev)
		if err != nil {
			log.WithFields(log.Fields{
				"user_id": authorID,
				"event":   ev,
			}).WithError(err).Error("Ошибка пересчёта наград после реакции")
			continue
		}
		res.Unlocked = append(res.Unlocked, unlocked...)
	}

	log.WithFields(log.Fields{
		"author_id":  authorID,
		"reactor_id": reactorID,
		"amount":     res.Amount,
		"streak":     res.StreakLength,
	}).Info("Реакция обработана")
	return res, nil
}
