// Package members — service.go содержит бизнес-логику участников:
// регистрация, проверка VIP-членства, продление членства и выдача
// доступа к контенту (выплаты наград видов VIP_EXTENSION и CONTENT).
package members

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Store — хранилище участников и выданного контента.
type Store interface {
	Upsert(ctx context.Context, userID int64, username, firstName, lastName string) error
	GetByUserID(ctx context.Context, userID int64) (*Member, error)
	SetRole(ctx context.Context, userID int64, role *string) error
	ExtendVIP(ctx context.Context, userID int64, days int) (time.Time, error)
	GrantContent(ctx context.Context, userID int64, contentKey string) error
	HasContent(ctx context.Context, userID int64, contentKey string) (bool, error)
	ContentGrants(ctx context.Context, userID int64) ([]ContentGrant, error)
}

// Service управляет участниками.
type Service struct {
	store Store
}

// NewService создаёт новый сервис участников.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register регистрирует участника или обновляет его данные.
func (s *Service) Register(ctx context.Context, userID int64, username, firstName, lastName string) error {
	return s.store.Upsert(ctx, userID, username, firstName, lastName)
}

// GetByUserID возвращает участника.
func (s *Service) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	return s.store.GetByUserID(ctx, userID)
}

// IsVIP сообщает, действует ли у пользователя VIP-членство сейчас.
// Незарегистрированный пользователь — не VIP.
func (s *Service) IsVIP(ctx context.Context, userID int64) (bool, error) {
	member, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return false, nil
	}
	return member.IsVIPAt(time.Now().UTC()), nil
}

// ExtendVIP продлевает VIP-членство на days дней и возвращает новый срок.
// Семантика: создать, если не было; продлить, если действует;
// начать заново от текущего момента, если истекло.
func (s *Service) ExtendVIP(ctx context.Context, userID int64, days int) (time.Time, error) {
	expires, err := s.store.ExtendVIP(ctx, userID, days)
	if err != nil {
		return time.Time{}, err
	}
	log.WithFields(log.Fields{
		"user_id": userID,
		"days":    days,
		"until":   expires.UTC().Format(time.RFC3339),
	}).Info("VIP-членство продлено")
	return expires, nil
}

// GrantContent выдаёт доступ к разблокируемому контенту (идемпотентно).
func (s *Service) GrantContent(ctx context.Context, userID int64, contentKey string) error {
	if err := s.store.GrantContent(ctx, userID, contentKey); err != nil {
		return err
	}
	log.WithFields(log.Fields{"user_id": userID, "content": contentKey}).Info("Доступ к контенту выдан")
	return nil
}

// HasContent сообщает, выдан ли доступ к контенту.
func (s *Service) HasContent(ctx context.Context, userID int64, contentKey string) (bool, error) {
	return s.store.HasContent(ctx, userID, contentKey)
}

// ContentGrants возвращает выданный пользователю контент, новые первыми.
func (s *Service) ContentGrants(ctx context.Context, userID int64) ([]ContentGrant, error) {
	return s.store.ContentGrants(ctx, userID)
}
