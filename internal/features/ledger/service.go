// Package ledger — service.go содержит бизнес-логику леджера.
// Валидация сумм, административные корректировки, история движений
// и вычисление уровня по конфигурируемой формуле.
package ledger

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/common"
	"serotonyl.ru/besitos-bot/internal/config"
	"serotonyl.ru/besitos-bot/internal/metrics"
)

// Store — хранилище счетов и журнала. Реализуется Repository (PostgreSQL),
// в тестах подменяется памятью с теми же условными семантиками.
type Store interface {
	Earn(ctx context.Context, userID, amount int64, category Category, reason string, meta Metadata) (*Entry, *Account, error)
	Spend(ctx context.Context, userID, amount int64, category Category, reason string, meta Metadata) (*Entry, *Account, error)
	Account(ctx context.Context, userID int64) (*Account, error)
	UpdateLevel(ctx context.Context, userID int64, level int) error
	History(ctx context.Context, userID int64, page, pageSize int, category Category) ([]*Entry, int64, error)
	HasCategory(ctx context.Context, userID int64, category Category) (bool, error)
	HasReason(ctx context.Context, userID int64, category Category, reason string) (bool, error)
}

// Service управляет экономикой беситос.
type Service struct {
	store   Store
	formula *Formula // nil, если формула из конфига не распарсилась
	cfg     *config.Config
}

// NewService создаёт новый сервис леджера. Формула уровня компилируется
// один раз; некорректная формула логируется и заменяется запасной.
func NewService(store Store, cfg *config.Config) *Service {
	formula, err := ParseFormula(cfg.LevelFormula)
	if err != nil {
		log.WithError(err).WithField("formula", cfg.LevelFormula).
			Warn("Формула уровня не распарсилась, используем запасную линейную")
		formula = nil
	}
	return &Service{store: store, formula: formula, cfg: cfg}
}

// Earn начисляет беситос пользователю. Счёт создаётся лениво.
// Возвращает запись журнала и смену уровня (для события level_up).
func (s *Service) Earn(ctx context.Context, userID, amount int64, category Category, reason string, meta Metadata) (*EarnResult, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if !category.IsEarn() {
		return nil, fmt.Errorf("категория %s не является начислением", category)
	}

	entry, account, err := s.store.Earn(ctx, userID, amount, category, reason, meta)
	if err != nil {
		return nil, err
	}
	metrics.LedgerEntries.WithLabelValues(string(category)).Inc()

	// Освежаем кэшированный уровень. account.Level — значение до начисления.
	newLevel := s.levelFor(account.TotalEarned)
	if newLevel != account.Level {
		if err := s.store.UpdateLevel(ctx, userID, newLevel); err != nil {
			log.WithError(err).WithField("user_id", userID).Error("Ошибка обновления уровня")
		}
	}
	if newLevel > account.Level {
		log.WithFields(log.Fields{
			"user_id":   userID,
			"old_level": account.Level,
			"new_level": newLevel,
		}).Info("Пользователь повысил уровень")
	}

	return &EarnResult{
		Entry:    entry,
		Balance:  account.Balance,
		OldLevel: account.Level,
		NewLevel: newLevel,
	}, nil
}

// Spend списывает беситос. Баланс никогда не уходит в минус: проверка
// достаточности — часть условной записи в хранилище, поэтому два
// одновременных списания не пройдут оба при нехватке средств.
func (s *Service) Spend(ctx context.Context, userID, amount int64, category Category, reason string, meta Metadata) (*Entry, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if !category.IsSpend() {
		return nil, fmt.Errorf("категория %s не является списанием", category)
	}

	entry, _, err := s.store.Spend(ctx, userID, amount, category, reason, meta)
	if err != nil {
		return nil, err
	}
	metrics.LedgerEntries.WithLabelValues(string(category)).Inc()
	return entry, nil
}

// Balance возвращает текущий баланс. Нет счёта — ноль.
func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.store.Account(ctx, userID)
	if err != nil {
		if err == common.ErrNoAccount {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// History возвращает страницу журнала движений (новые первыми) и общее
// число записей под фильтром.
func (s *Service) History(ctx context.Context, userID int64, page, pageSize int, category Category) ([]*Entry, int64, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	return s.store.History(ctx, userID, page, pageSize, category)
}

// AdminCredit — ручное или автоматическое (возврат) начисление от имени
// администратора. Категория EARN_ADMIN, id администратора — в метаданных,
// чтобы аудит мог сопоставить корректировки.
func (s *Service) AdminCredit(ctx context.Context, userID, amount int64, reason string, adminID int64) (*EarnResult, error) {
	meta := Metadata{"admin_id": adminID}
	result, err := s.Earn(ctx, userID, amount, CategoryEarnAdmin, reason, meta)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"user_id":  userID,
		"admin_id": adminID,
		"amount":   amount,
		"reason":   reason,
	}).Info("Административное начисление")
	return result, nil
}

// AdminDebit — ручное списание от имени администратора (SPEND_ADMIN).
func (s *Service) AdminDebit(ctx context.Context, userID, amount int64, reason string, adminID int64) (*Entry, error) {
	meta := Metadata{"admin_id": adminID}
	entry, err := s.Spend(ctx, userID, amount, CategorySpendAdmin, reason, meta)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"user_id":  userID,
		"admin_id": adminID,
		"amount":   amount,
		"reason":   reason,
	}).Info("Административное списание")
	return entry, nil
}

// Level возвращает уровень пользователя (минимум 1) и синхронизирует кэш.
func (s *Service) Level(ctx context.Context, userID int64) (int, error) {
	account, err := s.store.Account(ctx, userID)
	if err != nil {
		if err == common.ErrNoAccount {
			return 1, nil
		}
		return 0, err
	}
	level := s.levelFor(account.TotalEarned)
	if level != account.Level {
		if err := s.store.UpdateLevel(ctx, userID, level); err != nil {
			log.WithError(err).WithField("user_id", userID).Error("Ошибка обновления уровня")
		}
	}
	return level, nil
}

// Account возвращает полное состояние счёта.
func (s *Service) Account(ctx context.Context, userID int64) (*Account, error) {
	return s.store.Account(ctx, userID)
}

// HasCategory — есть ли у пользователя запись данной категории.
func (s *Service) HasCategory(ctx context.Context, userID int64, category Category) (bool, error) {
	return s.store.HasCategory(ctx, userID, category)
}

// HasReason — есть ли запись категории с точным reason (идемпотентность возвратов).
func (s *Service) HasReason(ctx context.Context, userID int64, category Category, reason string) (bool, error) {
	return s.store.HasReason(ctx, userID, category, reason)
}

// AccountSnapshot отдаёт накопленные суммы и уровень для условий наград.
// Для пользователя без счёта все значения нулевые, уровень 1.
func (s *Service) AccountSnapshot(ctx context.Context, userID int64) (totalEarned, totalSpent int64, level int, err error) {
	account, err := s.store.Account(ctx, userID)
	if err != nil {
		if err == common.ErrNoAccount {
			return 0, 0, 1, nil
		}
		return 0, 0, 0, err
	}
	return account.TotalEarned, account.TotalSpent, s.levelFor(account.TotalEarned), nil
}

// levelFor вычисляет уровень по формуле с откатом на запасную.
func (s *Service) levelFor(totalEarned int64) int {
	if s.formula == nil {
		return clampLevel(fallbackLevel(totalEarned))
	}
	level, err := s.formula.Eval(totalEarned)
	if err != nil {
		log.WithError(err).WithField("formula", s.formula.String()).
			Warn("Ошибка вычисления формулы уровня, используем запасную")
		return clampLevel(fallbackLevel(totalEarned))
	}
	return clampLevel(level)
}
