// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежедневную зачистку
// прерванных серий и ежечасную пометку просроченных окон наград.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/features/streak"
)

// StreakSweeper — трекер серий глазами планировщика.
type StreakSweeper interface {
	ExpireMissedStreaks(ctx context.Context, kind streak.Kind) (int64, error)
}

// RewardSweeper — движок наград глазами планировщика.
type RewardSweeper interface {
	ExpireOverdueWindows(ctx context.Context) (int64, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	streaks StreakSweeper
	rewards RewardSweeper
}

// cronLogger адаптирует logrus под интерфейс cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	log.WithField("kv", kv).Debug("[CRON] " + msg)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	log.WithField("kv", kv).WithError(err).Error("[CRON] " + msg)
}

// NewScheduler создаёт планировщик задач. Все задачи идут по UTC:
// календарный день экономики определён в UTC, и зачистки должны
// срабатывать сразу после его границы.
func NewScheduler(streaks StreakSweeper, rewards RewardSweeper) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{})),
	)
	return &Scheduler{cron: c, streaks: streaks, rewards: rewards}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Зачистка прерванных серий в 00:05 UTC: пять минут запаса,
	// чтобы не спорить с получениями ровно на границе дня.
	s.cron.AddFunc("5 0 * * *", func() {
		log.Info("[CRON] Зачистка прерванных серий")
		for _, kind := range []streak.Kind{streak.KindDailyGift, streak.KindReaction} {
			n, err := s.streaks.ExpireMissedStreaks(ctx, kind)
			if err != nil {
				log.WithField("kind", kind).WithError(err).Error("[CRON] Ошибка зачистки серий")
				continue
			}
			if n > 0 {
				log.WithFields(log.Fields{"kind": kind, "count": n}).Info("[CRON] Серии сброшены")
			}
		}
	})

	// Пометка просроченных окон наград каждый час
	s.cron.AddFunc("0 * * * *", func() {
		log.Debug("[CRON] Пометка просроченных окон наград")
		if _, err := s.rewards.ExpireOverdueWindows(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка пометки окон")
		}
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен (UTC)")
}

// Stop останавливает планировщик и дожидается завершения задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
