// Package streak — service.go содержит бизнес-логику стрик-системы.
// Сервис решает, продолжается серия или начинается заново, начисляет
// выплату за ежедневный подарок через леджер и обслуживает зачистку
// пропущенных дней.
//
// Все сравнения дней — календарные даты в UTC (internal/common).
package streak

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/common"
	"serotonyl.ru/besitos-bot/internal/config"
	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/metrics"
)

// Store — хранилище стриков с условными записями по дням.
type Store interface {
	Ensure(ctx context.Context, userID int64, kind Kind) error
	Get(ctx context.Context, userID int64, kind Kind) (*State, error)
	AdvanceClaim(ctx context.Context, userID int64, newLength int, today time.Time) (bool, error)
	RevertClaim(ctx context.Context, userID int64, prev *State, today time.Time) (bool, error)
	AdvanceActivity(ctx context.Context, userID int64, kind Kind, newLength int, today time.Time) (bool, error)
	Reset(ctx context.Context, userID int64, kind Kind) error
	ExpireMissed(ctx context.Context, kind Kind, today time.Time) (int64, error)
}

// Ledger — начисление выплат за подарки. Реализуется сервисом леджера.
type Ledger interface {
	Earn(ctx context.Context, userID, amount int64, category ledger.Category, reason string, meta ledger.Metadata) (*ledger.EarnResult, error)
}

// Service управляет стрик-системой.
type Service struct {
	store  Store
	ledger Ledger
	cfg    *config.Config
}

// NewService создаёт новый сервис стриков.
func NewService(store Store, ledgerService Ledger, cfg *config.Config) *Service {
	return &Service{store: store, ledger: ledgerService, cfg: cfg}
}

// CanClaimDailyGift сообщает, доступен ли сегодня ежедневный подарок.
// Если уже получен — вторым значением возвращается время до следующей
// UTC-полуночи.
func (s *Service) CanClaimDailyGift(ctx context.Context, userID int64) (bool, time.Duration, error) {
	return s.canClaimAt(ctx, userID, time.Now().UTC())
}

func (s *Service) canClaimAt(ctx context.Context, userID int64, now time.Time) (bool, time.Duration, error) {
	state, err := s.store.Get(ctx, userID, KindDailyGift)
	if err != nil {
		if err == common.ErrStreakNotFound {
			return true, 0, nil
		}
		return false, 0, err
	}
	if state.LastClaimDay != nil && common.SameDay(*state.LastClaimDay, now) {
		return false, common.NextMidnight(now).Sub(now), nil
	}
	return true, 0, nil
}

// ClaimDailyGift выдаёт ежедневный подарок.
//
// Правила длины серии:
//   - первый подарок или пропуск дня → серия начинается с 1;
//   - последний подарок ровно вчера → серия +1;
//   - подарок уже получен сегодня → ErrAlreadyClaimedToday.
//
// Переход дня — одна условная запись, поэтому из двух одновременных
// нажатий выигрывает ровно одно; проигравший получает
// ErrAlreadyClaimedToday и никакой выплаты.
func (s *Service) ClaimDailyGift(ctx context.Context, userID int64) (*ClaimResult, error) {
	return s.claimAt(ctx, userID, time.Now().UTC())
}

func (s *Service) claimAt(ctx context.Context, userID int64, now time.Time) (*ClaimResult, error) {
	today := common.UTCDate(now)

	if err := s.store.Ensure(ctx, userID, KindDailyGift); err != nil {
		return nil, err
	}
	state, err := s.store.Get(ctx, userID, KindDailyGift)
	if err != nil {
		return nil, err
	}

	if state.LastClaimDay != nil && !state.LastClaimDay.Before(today) {
		return nil, common.ErrAlreadyClaimedToday
	}

	hasPrev := state.LastClaimDay != nil
	wasYesterday := hasPrev && common.IsYesterday(*state.LastClaimDay, today)
	newLength := nextLength(state.CurrentLength, wasYesterday, hasPrev)

	ok, err := s.store.AdvanceClaim(ctx, userID, newLength, today)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Конкурент успел записать сегодняшний день раньше нас.
		metrics.RaceLosers.WithLabelValues("daily_claim").Inc()
		return nil, common.ErrAlreadyClaimedToday
	}

	base := s.cfg.StreakDailyBase
	bonus := CalculateBonus(newLength, s.cfg.StreakBonusStep, s.cfg.StreakBonusCap)
	total := base + bonus

	earn, err := s.ledger.Earn(ctx, userID, total, ledger.CategoryEarnDaily,
		fmt.Sprintf("Ежедневный подарок, день %d", newLength),
		ledger.Metadata{"streak_day": newLength, "base": base, "bonus": bonus},
	)
	if err != nil {
		// День уже записан, а выплата не прошла — откатываем переход,
		// иначе повтор вернул бы ErrAlreadyClaimedToday без начисления.
		log.WithError(err).WithField("user_id", userID).Error("Ошибка начисления ежедневного подарка")
		if _, revertErr := s.store.RevertClaim(ctx, userID, state, today); revertErr != nil {
			log.WithError(revertErr).WithField("user_id", userID).
				Error("Не удалось откатить день подарка после ошибки выплаты")
		}
		return nil, err
	}
	metrics.DailyClaims.Inc()

	log.WithFields(log.Fields{
		"user_id": userID,
		"day":     newLength,
		"payout":  total,
	}).Debug("Ежедневный подарок выдан")

	return &ClaimResult{
		StreakDay: newLength,
		Base:      base,
		Bonus:     bonus,
		Total:     total,
		Balance:   earn.Balance,
		LeveledUp: earn.LeveledUp(),
		NewLevel:  earn.NewLevel,
	}, nil
}

// RecordReaction учитывает пассивную активность дня для серии реакций.
// Повтор в тот же день — no-op с неизменной длиной. when нулевое — сейчас.
func (s *Service) RecordReaction(ctx context.Context, userID int64, when time.Time) (*ReactionResult, error) {
	if when.IsZero() {
		when = time.Now().UTC()
	}
	today := common.UTCDate(when)

	if err := s.store.Ensure(ctx, userID, KindReaction); err != nil {
		return nil, err
	}
	state, err := s.store.Get(ctx, userID, KindReaction)
	if err != nil {
		return nil, err
	}

	if state.LastActivityDay != nil && !state.LastActivityDay.Before(today) {
		return &ReactionResult{Incremented: false, CurrentLength: state.CurrentLength}, nil
	}

	hasPrev := state.LastActivityDay != nil
	wasYesterday := hasPrev && common.IsYesterday(*state.LastActivityDay, today)
	newLength := nextLength(state.CurrentLength, wasYesterday, hasPrev)

	ok, err := s.store.AdvanceActivity(ctx, userID, KindReaction, newLength, today)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Параллельная реакция уже засчитала этот день.
		metrics.RaceLosers.WithLabelValues("reaction_activity").Inc()
		fresh, err := s.store.Get(ctx, userID, KindReaction)
		if err != nil {
			return nil, err
		}
		return &ReactionResult{Incremented: false, CurrentLength: fresh.CurrentLength}, nil
	}

	return &ReactionResult{Incremented: true, CurrentLength: newLength}, nil
}

// GetStreakInfo возвращает сводку стрика для отображения.
func (s *Service) GetStreakInfo(ctx context.Context, userID int64, kind Kind) (*Info, error) {
	return s.infoAt(ctx, userID, kind, time.Now().UTC())
}

func (s *Service) infoAt(ctx context.Context, userID int64, kind Kind, now time.Time) (*Info, error) {
	state, err := s.store.Get(ctx, userID, kind)
	if err != nil {
		if err == common.ErrStreakNotFound {
			return &Info{CanClaim: kind == KindDailyGift}, nil
		}
		return nil, err
	}

	info := &Info{
		CurrentLength: state.CurrentLength,
		LongestLength: state.LongestLength,
		LastActivity:  state.LastActivityDay,
	}
	if kind == KindDailyGift {
		if state.LastClaimDay != nil && common.SameDay(*state.LastClaimDay, now) {
			next := common.NextMidnight(now)
			info.NextClaimTime = &next
		} else {
			info.CanClaim = true
		}
	}
	return info, nil
}

// CurrentLength — короткий доступ к текущей длине серии (для условий наград).
func (s *Service) CurrentLength(ctx context.Context, userID int64, kind Kind) (int, error) {
	state, err := s.store.Get(ctx, userID, kind)
	if err != nil {
		if err == common.ErrStreakNotFound {
			return 0, nil
		}
		return 0, err
	}
	return state.CurrentLength, nil
}

// ResetStreak — ручной сброс текущей серии администратором.
// Рекорд не трогается.
func (s *Service) ResetStreak(ctx context.Context, userID int64, kind Kind) error {
	if err := s.store.Reset(ctx, userID, kind); err != nil {
		return err
	}
	log.WithFields(log.Fields{"user_id": userID, "kind": kind}).Info("Стрик сброшен вручную")
	return nil
}

// ExpireMissedStreaks обнуляет серии с целиком пропущенным днём.
// Запускается кроном раз в сутки; повторный запуск — no-op.
func (s *Service) ExpireMissedStreaks(ctx context.Context, kind Kind) (int64, error) {
	count, err := s.store.ExpireMissed(ctx, kind, common.Today())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.StreakResets.WithLabelValues(string(kind)).Add(float64(count))
		log.WithFields(log.Fields{"kind": kind, "reset": count}).Info("Зачистка пропущенных стриков")
	}
	return count, nil
}
