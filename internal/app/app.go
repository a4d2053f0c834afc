// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы,
// планировщик и служебный сервер, и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/config"
	"serotonyl.ru/besitos-bot/internal/db/postgres"
	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/features/members"
	"serotonyl.ru/besitos-bot/internal/features/reactions"
	"serotonyl.ru/besitos-bot/internal/features/rewards"
	"serotonyl.ru/besitos-bot/internal/features/shop"
	"serotonyl.ru/besitos-bot/internal/features/streak"
	"serotonyl.ru/besitos-bot/internal/jobs"
	"serotonyl.ru/besitos-bot/internal/ops"
)

// App содержит все компоненты приложения.
type App struct {
	Members   *members.Service
	Ledger    *ledger.Service
	Streaks   *streak.Service
	Rewards   *rewards.Service
	Reactions *reactions.Service
	Shop      *shop.Service
	Scheduler *jobs.Scheduler
	Ops       *ops.Server
	DB        *pgxpool.Pool
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Репозитории ===
	memberRepo := members.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	streakRepo := streak.NewRepository(pool)
	rewardRepo := rewards.NewRepository(pool)
	shopRepo := shop.NewRepository(pool)

	// === 3. Сервисы ===
	memberService := members.NewService(memberRepo)
	ledgerService := ledger.NewService(ledgerRepo, cfg)
	streakService := streak.NewService(streakRepo, ledgerService, cfg)
	rewardService := rewards.NewService(rewardRepo, ledgerService, streakService, memberService, cfg)
	reactionService := reactions.NewService(ledgerService, streakService, rewardService, cfg)
	shopService := shop.NewService(shopRepo, ledgerService, memberService, rewardService)

	// === 4. Планировщик задач ===
	scheduler := jobs.NewScheduler(streakService, rewardService)

	// === 5. Служебный сервер ===
	opsServer := ops.NewServer(cfg.OpsListenAddr, pool)

	log.Info("Приложение собрано")
	return &App{
		Members:   memberService,
		Ledger:    ledgerService,
		Streaks:   streakService,
		Rewards:   rewardService,
		Reactions: reactionService,
		Shop:      shopService,
		Scheduler: scheduler,
		Ops:       opsServer,
		DB:        pool,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationTable(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Members},
		{2, migration002Ledger},
		{3, migration003Streaks},
		{4, migration004Rewards},
		{5, migration005Shop},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}
	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Members = `
CREATE TABLE IF NOT EXISTS members (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL,
    username VARCHAR(255),
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255),
    role VARCHAR(64),
    vip_expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);

CREATE TABLE IF NOT EXISTS content_grants (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    content_key VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (user_id, content_key)
);
`

var migration002Ledger = `
CREATE TABLE IF NOT EXISTS accounts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL,
    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    total_earned BIGINT NOT NULL DEFAULT 0,
    total_spent BIGINT NOT NULL DEFAULT 0,
    level INT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    category VARCHAR(32) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    metadata JSONB,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_category ON ledger_entries(user_id, category);
`

var migration003Streaks = `
CREATE TABLE IF NOT EXISTS streak_states (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind VARCHAR(32) NOT NULL,
    current_length INT NOT NULL DEFAULT 0,
    longest_length INT NOT NULL DEFAULT 0,
    last_claim_day DATE,
    last_activity_day DATE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (user_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_streak_states_kind_day ON streak_states(kind, last_claim_day);
`

var migration004Rewards = `
CREATE TABLE IF NOT EXISTS reward_definitions (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    payout_kind VARCHAR(32) NOT NULL,
    payout_payload JSONB NOT NULL DEFAULT '{}',
    repeatable BOOLEAN NOT NULL DEFAULT FALSE,
    secret BOOLEAN NOT NULL DEFAULT FALSE,
    claim_window_seconds BIGINT NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    display_order INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reward_conditions (
    id BIGSERIAL PRIMARY KEY,
    reward_id BIGINT NOT NULL REFERENCES reward_definitions(id) ON DELETE CASCADE,
    kind VARCHAR(32) NOT NULL,
    value BIGINT,
    group_num INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reward_conditions_reward ON reward_conditions(reward_id);

CREATE TABLE IF NOT EXISTS user_reward_states (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    reward_id BIGINT NOT NULL REFERENCES reward_definitions(id) ON DELETE CASCADE,
    status VARCHAR(16) NOT NULL DEFAULT 'LOCKED',
    unlocked_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ,
    claimed_at TIMESTAMPTZ,
    last_claimed_at TIMESTAMPTZ,
    claim_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (user_id, reward_id)
);
CREATE INDEX IF NOT EXISTS idx_user_reward_states_expiry ON user_reward_states(status, expires_at);
`

var migration005Shop = `
CREATE TABLE IF NOT EXISTS shop_items (
    id BIGSERIAL PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    descr TEXT NOT NULL DEFAULT '',
    price BIGINT NOT NULL CHECK (price > 0),
    content_key VARCHAR(255) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`
