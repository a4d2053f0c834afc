// Package shop — service.go содержит бизнес-логику покупки:
// списание беситос, выдача контента и автоматический возврат,
// если выдача не прошла.
package shop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/common"
	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/features/rewards"
)

// Store — каталог позиций магазина.
type Store interface {
	ActiveItems(ctx context.Context) ([]*Item, error)
	Item(ctx context.Context, itemID int64) (*Item, error)
	CreateItem(ctx context.Context, it *Item) (int64, error)
}

// Ledger — леджер глазами магазина: списание, возврат и проверка
// уже выполненного возврата по маркеру попытки.
type Ledger interface {
	Spend(ctx context.Context, userID, amount int64, category ledger.Category, reason string, meta ledger.Metadata) (*ledger.Entry, error)
	Earn(ctx context.Context, userID, amount int64, category ledger.Category, reason string, meta ledger.Metadata) (*ledger.EarnResult, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	HasReason(ctx context.Context, userID int64, category ledger.Category, reason string) (bool, error)
}

// Members — выдача купленного контента.
type Members interface {
	GrantContent(ctx context.Context, userID int64, contentKey string) error
}

// RewardEngine — движок наград глазами магазина.
type RewardEngine interface {
	CheckRewardsOnEvent(ctx context.Context, userID int64, event rewards.EventType) ([]*rewards.Definition, error)
}

// Service обрабатывает покупки.
type Service struct {
	store   Store
	ledger  Ledger
	members Members
	rewards RewardEngine
}

// NewService создаёт новый сервис магазина.
func NewService(store Store, ledgerSvc Ledger, memberSvc Members, rewardSvc RewardEngine) *Service {
	return &Service{store: store, ledger: ledgerSvc, members: memberSvc, rewards: rewardSvc}
}

// ActiveItems возвращает витрину магазина.
func (s *Service) ActiveItems(ctx context.Context) ([]*Item, error) {
	return s.store.ActiveItems(ctx)
}

// refundReason — маркер возврата конкретной попытки покупки.
// По нему возврат становится идемпотентным: повторный откат той же
// попытки не начислит беситос второй раз.
func refundReason(attemptID string) string {
	return "shop:auto-refund:" + attemptID
}

// Purchase проводит покупку позиции itemID пользователем userID.
//
// Порядок строгий: сначала атомарное списание (оно же отсекает
// недостаточный баланс), затем выдача контента. Если выдача не
// прошла, списание компенсируется возвратом с маркером попытки.
func (s *Service) Purchase(ctx context.Context, userID, itemID int64) ([]*rewards.Definition, *PurchaseResult, error) {
	item, err := s.store.Item(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if !item.Active {
		return nil, nil, common.ErrItemInactive
	}

	attemptID := uuid.New().String()
	entry, err := s.ledger.Spend(ctx, userID, item.Price, ledger.CategorySpendShop,
		fmt.Sprintf("Покупка «%s»", item.Title),
		ledger.Metadata{"item_id": item.ID, "attempt_id": attemptID})
	if err != nil {
		return nil, nil, err
	}

	if err := s.members.GrantContent(ctx, userID, item.ContentKey); err != nil {
		s.refund(ctx, userID, item, attemptID)
		return nil, nil, fmt.Errorf("ошибка выдачи контента: %w", err)
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	result := &PurchaseResult{
		AttemptID:  attemptID,
		Item:       item,
		Spent:      -entry.Amount,
		Balance:    balance,
		ContentKey: item.ContentKey,
	}

	unlocked, err := s.rewards.CheckRewardsOnEvent(ctx, userID, rewards.EventPurchaseCompleted)
	if err != nil {
		log.WithFields(log.Fields{
			"user_id": userID,
			"item_id": itemID,
		}).WithError(err).Error("Ошибка пересчёта наград после покупки")
		unlocked = nil
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"item_id": itemID,
		"price":   item.Price,
		"attempt": attemptID,
	}).Info("Покупка проведена")
	return unlocked, result, nil
}

// refund возвращает списанные беситос за неудавшуюся попытку.
// Идемпотентен: если возврат с этим маркером уже записан, второй
// раз ничего не начисляется.
func (s *Service) refund(ctx context.Context, userID int64, item *Item, attemptID string) {
	reason := refundReason(attemptID)
	done, err := s.ledger.HasReason(ctx, userID, ledger.CategoryEarnAdmin, reason)
	if err != nil {
		log.WithField("attempt", attemptID).WithError(err).Error("Ошибка проверки возврата")
		return
	}
	if done {
		return
	}
	_, err = s.ledger.Earn(ctx, userID, item.Price, ledger.CategoryEarnAdmin, reason,
		ledger.Metadata{"item_id": item.ID, "attempt_id": attemptID})
	if err != nil {
		log.WithFields(log.Fields{
			"user_id": userID,
			"attempt": attemptID,
			"amount":  item.Price,
		}).WithError(err).Error("Возврат за покупку не прошёл")
		return
	}
	log.WithFields(log.Fields{
		"user_id": userID,
		"attempt": attemptID,
		"amount":  item.Price,
	}).Warn("Покупка откатена, беситос возвращены")
}
