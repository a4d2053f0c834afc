// Package metrics регистрирует prometheus-счётчики основных операций
// экономики. Счётчики экспортируются ops-сервером через /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerEntries — число движений по леджеру, по категориям.
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "besitos_ledger_entries_total",
		Help: "Количество записей леджера по категориям.",
	}, []string{"category"})

	// DailyClaims — успешные получения ежедневного подарка.
	DailyClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "besitos_daily_claims_total",
		Help: "Количество успешных ежедневных подарков.",
	})

	// RewardUnlocks — переходы наград в состояние UNLOCKED.
	RewardUnlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "besitos_reward_unlocks_total",
		Help: "Количество разблокированных наград.",
	})

	// RewardClaims — успешные выплаты наград по видам.
	RewardClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "besitos_reward_claims_total",
		Help: "Количество полученных наград по виду выплаты.",
	}, []string{"payout_kind"})

	// StreakResets — сбросы стриков фоновой зачисткой, по видам.
	StreakResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "besitos_streak_resets_total",
		Help: "Количество стриков, сброшенных зачисткой пропущенных дней.",
	}, []string{"kind"})

	// RaceLosers — проигравшие конкурентные запросы (ноль изменённых строк).
	// Это штатный исход, не ошибка; счётчик помогает видеть её частоту.
	RaceLosers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "besitos_race_losers_total",
		Help: "Количество проигравших конкурентных условных записей.",
	}, []string{"operation"})
)
