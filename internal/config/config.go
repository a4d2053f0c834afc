// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"besitos_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`

	// --- Ops (здоровье + метрики) ---
	OpsListenAddr string `envconfig:"OPS_LISTEN_ADDR" default:":9090"`

	// --- Streak ---
	// Награда за ежедневный подарок: base + min(день*step, cap).
	StreakDailyBase   int64 `envconfig:"STREAK_DAILY_BASE" default:"20"`
	StreakBonusStep   int64 `envconfig:"STREAK_BONUS_STEP" default:"2"`
	StreakBonusCap    int64 `envconfig:"STREAK_BONUS_CAP" default:"50"`

	// --- Reactions ---
	ReactionReward int64 `envconfig:"REACTION_REWARD" default:"5"`

	// --- Rewards ---
	// Потолки выплат: больше этих значений награда не платит,
	// даже если админ вписал больше в payload.
	RewardMaxBesitos int64 `envconfig:"REWARD_MAX_BESITOS" default:"100"`
	RewardMaxVIPDays int   `envconfig:"REWARD_MAX_VIP_DAYS" default:"30"`
	// Окно получения по умолчанию (часы), если у награды не задано своё.
	RewardClaimWindowHours int `envconfig:"REWARD_CLAIM_WINDOW_HOURS" default:"72"`

	// --- Ledger ---
	// Формула уровня. Поддерживается: + - * / ( ), sqrt, floor
	// и единственная переменная total_earned. Некорректная формула
	// откатывается на линейную запасную.
	LevelFormula string `envconfig:"LEVEL_FORMULA" default:"floor(sqrt(total_earned / 100)) + 1"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.StreakDailyBase < 0 || c.StreakBonusStep < 0 || c.StreakBonusCap < 0 {
		return fmt.Errorf("настройки стрика не могут быть отрицательными")
	}
	if c.RewardMaxBesitos <= 0 || c.RewardMaxVIPDays <= 0 {
		return fmt.Errorf("потолки наград должны быть положительными")
	}
	if c.RewardClaimWindowHours <= 0 {
		return fmt.Errorf("REWARD_CLAIM_WINDOW_HOURS должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
