// Package rewards — service.go содержит бизнес-логику движка наград:
// пересчёт по событиям, машину состояний получения и выплаты.
package rewards

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/besitos-bot/internal/common"
	"serotonyl.ru/besitos-bot/internal/config"
	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/features/streak"
	"serotonyl.ru/besitos-bot/internal/metrics"
)

// Store — хранилище определений наград и прогресса пользователей.
type Store interface {
	ActiveDefinitions(ctx context.Context) ([]*Definition, error)
	Definition(ctx context.Context, rewardID int64) (*Definition, error)
	CreateDefinition(ctx context.Context, d *Definition) (int64, error)
	AddCondition(ctx context.Context, c *Condition) (int64, error)
	EnsureState(ctx context.Context, userID, rewardID int64) error
	State(ctx context.Context, userID, rewardID int64) (*UserState, error)
	Unlock(ctx context.Context, userID, rewardID int64, from []Status, now, expires time.Time) (bool, error)
	MarkExpired(ctx context.Context, userID, rewardID int64, now time.Time) (bool, error)
	ClaimTransition(ctx context.Context, userID, rewardID int64, now time.Time) (*UserState, bool, error)
	RevertClaim(ctx context.Context, userID, rewardID int64, prev *UserState) error
	SetAfterClaim(ctx context.Context, userID, rewardID int64, to Status, now time.Time, expires *time.Time) error
	ExpireOverdueWindows(ctx context.Context, now time.Time) (int64, error)
}

// LedgerSource — леджер глазами движка наград: чтение прогресса
// и начисление выплат вида BESITOS.
type LedgerSource interface {
	AccountSnapshot(ctx context.Context, userID int64) (totalEarned, totalSpent int64, level int, err error)
	HasCategory(ctx context.Context, userID int64, category ledger.Category) (bool, error)
	Earn(ctx context.Context, userID, amount int64, category ledger.Category, reason string, meta ledger.Metadata) (*ledger.EarnResult, error)
}

// StreakSource — трекер серий глазами движка наград.
type StreakSource interface {
	CurrentLength(ctx context.Context, userID int64, kind streak.Kind) (int, error)
}

// MemberSource — сервис участников: проверка VIP и выплаты
// видов VIP_EXTENSION и CONTENT.
type MemberSource interface {
	IsVIP(ctx context.Context, userID int64) (bool, error)
	ExtendVIP(ctx context.Context, userID int64, days int) (time.Time, error)
	GrantContent(ctx context.Context, userID int64, contentKey string) error
}

// Service реализует движок наград.
type Service struct {
	store   Store
	ledger  LedgerSource
	streaks StreakSource
	members MemberSource
	cfg     *config.Config
}

// NewService создаёт новый сервис наград.
func NewService(store Store, ledgerSvc LedgerSource, streakSvc StreakSource, memberSvc MemberSource, cfg *config.Config) *Service {
	return &Service{
		store:   store,
		ledger:  ledgerSvc,
		streaks: streakSvc,
		members: memberSvc,
		cfg:     cfg,
	}
}

// claimWindowFor возвращает окно получения награды:
// своё из определения либо окно по умолчанию из конфига.
func (s *Service) claimWindowFor(def *Definition) time.Duration {
	if def.ClaimWindow > 0 {
		return def.ClaimWindow
	}
	return time.Duration(s.cfg.RewardClaimWindowHours) * time.Hour
}

// CheckRewardsOnEvent пересчитывает награды пользователя после
// доменного события и возвращает свежеразблокированные. Пересчитываются
// только активные награды, у которых есть условие затронутого вида.
//
// Повторяемая награда в статусе CLAIMED открывается заново, если её
// условия снова выполнены. EXPIRED-награда тоже открывается заново.
func (s *Service) CheckRewardsOnEvent(ctx context.Context, userID int64, event EventType) ([]*Definition, error) {
	kinds, ok := affectedKinds[event]
	if !ok {
		return nil, fmt.Errorf("неизвестное событие %q", event)
	}

	defs, err := s.store.ActiveDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var unlocked []*Definition
	for _, def := range defs {
		if !touchesKinds(def, kinds) {
			continue
		}
		opened, err := s.evaluateAndTransition(ctx, userID, def, now)
		if err != nil {
			return nil, err
		}
		if opened {
			unlocked = append(unlocked, def)
		}
	}

	if len(unlocked) > 0 {
		log.WithFields(log.Fields{
			"user_id": userID,
			"event":   event,
			"count":   len(unlocked),
		}).Info("Награды разблокированы")
	}
	return unlocked, nil
}

// evaluateAndTransition пересчитывает одну награду для пользователя.
// Возвращает true, если награда только что была разблокирована.
func (s *Service) evaluateAndTransition(ctx context.Context, userID int64, def *Definition, now time.Time) (bool, error) {
	if err := s.store.EnsureState(ctx, userID, def.ID); err != nil {
		return false, err
	}
	state, err := s.store.State(ctx, userID, def.ID)
	if err != nil {
		return false, err
	}

	// Просроченное окно фиксируем перед оценкой: дальше запись
	// ведёт себя как EXPIRED и может открыться заново.
	if state.windowElapsed(now) {
		if _, err := s.store.MarkExpired(ctx, userID, def.ID, now); err != nil {
			return false, err
		}
		state.Status = StatusExpired
	}

	var from []Status
	switch state.Status {
	case StatusLocked, StatusExpired:
		from = []Status{StatusLocked, StatusExpired}
	case StatusClaimed:
		if !def.Repeatable {
			return false, nil
		}
		from = []Status{StatusClaimed}
	case StatusUnlocked:
		return false, nil
	}

	eligible, err := s.evaluateEligibility(ctx, userID, def, state)
	if err != nil {
		return false, err
	}
	if !eligible {
		return false, nil
	}

	ok, err := s.store.Unlock(ctx, userID, def.ID, from, now, now.Add(s.claimWindowFor(def)))
	if err != nil {
		return false, err
	}
	if !ok {
		// Параллельный пересчёт уже перевёл запись.
		metrics.RaceLosers.WithLabelValues("reward_unlock").Inc()
		return false, nil
	}
	metrics.RewardUnlocks.Inc()
	return true, nil
}

// Claim выполняет получение награды пользователем.
//
// Порядок строгий: сначала атомарный переход UNLOCKED → CLAIMED
// (из конкурентных получений выигрывает ровно одно), затем выплата.
// Если выплата не прошла, переход компенсируется обратно в UNLOCKED —
// награда никогда не выплачивается дважды за одно получение.
func (s *Service) Claim(ctx context.Context, userID, rewardID int64) (*ClaimPayout, error) {
	def, err := s.store.Definition(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, common.ErrRewardInactive
	}

	now := time.Now().UTC()
	// Запись состояния могла ещё не создаваться (пользователь ни разу
	// не смотрел список наград) — заводим её как LOCKED, чтобы ошибка
	// была «награда закрыта», а не «награда не найдена».
	if err := s.store.EnsureState(ctx, userID, rewardID); err != nil {
		return nil, err
	}
	state, err := s.store.State(ctx, userID, rewardID)
	if err != nil {
		return nil, err
	}
	if err := s.checkClaimable(ctx, userID, rewardID, state, now); err != nil {
		return nil, err
	}

	prev := *state
	claimed, won, err := s.store.ClaimTransition(ctx, userID, rewardID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		// Гонку выиграл кто-то другой (или окно истекло между
		// проверкой и переходом) — перечитываем и отвечаем точно.
		metrics.RaceLosers.WithLabelValues("reward_claim").Inc()
		state, err = s.store.State(ctx, userID, rewardID)
		if err != nil {
			return nil, err
		}
		if cerr := s.checkClaimable(ctx, userID, rewardID, state, now); cerr != nil {
			return nil, cerr
		}
		// Конкурент получил повторяемую награду, и она уже успела
		// переоткрыться — наша попытка всё равно проиграла.
		return nil, common.ErrAlreadyClaimed
	}

	payout, err := s.payout(ctx, userID, def, claimed)
	if err != nil {
		if revertErr := s.store.RevertClaim(ctx, userID, rewardID, &prev); revertErr != nil {
			log.WithFields(log.Fields{
				"user_id":   userID,
				"reward_id": rewardID,
			}).WithError(revertErr).Error("Не удалось откатить получение после ошибки выплаты")
		}
		return nil, fmt.Errorf("ошибка выплаты награды: %w", err)
	}

	if err := s.afterClaim(ctx, userID, def, claimed, now, payout); err != nil {
		return nil, err
	}

	metrics.RewardClaims.WithLabelValues(string(def.PayoutKind)).Inc()
	log.WithFields(log.Fields{
		"user_id":   userID,
		"reward_id": rewardID,
		"kind":      def.PayoutKind,
		"capped":    payout.WasCapped,
	}).Info("Награда получена")
	return payout, nil
}

// checkClaimable возвращает точную ошибку для неполучаемой награды
// и nil, если награда в статусе UNLOCKED с живым окном.
func (s *Service) checkClaimable(ctx context.Context, userID, rewardID int64, state *UserState, now time.Time) error {
	if state.windowElapsed(now) {
		if _, err := s.store.MarkExpired(ctx, userID, rewardID, now); err != nil {
			return err
		}
		return common.ErrRewardExpired
	}
	switch state.Status {
	case StatusUnlocked:
		return nil
	case StatusLocked:
		return common.ErrRewardLocked
	case StatusExpired:
		return common.ErrRewardExpired
	case StatusClaimed:
		return common.ErrAlreadyClaimed
	}
	return fmt.Errorf("неизвестный статус награды %q", state.Status)
}

// payout выполняет выплату награды, применяя потолки из конфига.
func (s *Service) payout(ctx context.Context, userID int64, def *Definition, state *UserState) (*ClaimPayout, error) {
	out := &ClaimPayout{
		RewardID: def.ID,
		Name:     def.Name,
		Kind:     def.PayoutKind,
	}

	switch def.PayoutKind {
	case PayoutBesitos:
		amount := def.Payout.Amount
		if amount > s.cfg.RewardMaxBesitos {
			amount = s.cfg.RewardMaxBesitos
			out.WasCapped = true
		}
		if amount <= 0 {
			return nil, fmt.Errorf("недопустимая сумма выплаты %d", def.Payout.Amount)
		}
		_, err := s.ledger.Earn(ctx, userID, amount, ledger.CategoryEarnReward,
			fmt.Sprintf("Награда «%s»", def.Name),
			ledger.Metadata{"reward_id": def.ID, "claim_count": state.ClaimCount})
		if err != nil {
			return nil, err
		}
		out.Amount = amount

	case PayoutVIPExtension:
		days := def.Payout.Days
		if days > s.cfg.RewardMaxVIPDays {
			days = s.cfg.RewardMaxVIPDays
			out.WasCapped = true
		}
		if days <= 0 {
			return nil, fmt.Errorf("недопустимое продление VIP на %d дней", def.Payout.Days)
		}
		until, err := s.members.ExtendVIP(ctx, userID, days)
		if err != nil {
			return nil, err
		}
		out.Days = days
		out.VIPUntil = &until

	case PayoutContent:
		if def.Payout.ContentKey == "" {
			return nil, fmt.Errorf("награда %d не содержит ключа контента", def.ID)
		}
		if err := s.members.GrantContent(ctx, userID, def.Payout.ContentKey); err != nil {
			return nil, err
		}
		out.ContentKey = def.Payout.ContentKey

	case PayoutBadge:
		// Значок информационный, запись о получении — сама выплата.
		out.Badge = def.Payout.Badge

	default:
		return nil, fmt.Errorf("неизвестный вид выплаты %q", def.PayoutKind)
	}
	return out, nil
}

// afterClaim решает судьбу повторяемой награды сразу после получения:
// условия всё ещё выполнены — открыть заново со свежим окном,
// иначе закрыть до следующего подходящего события.
func (s *Service) afterClaim(ctx context.Context, userID int64, def *Definition, state *UserState, now time.Time, payout *ClaimPayout) error {
	if !def.Repeatable {
		return nil
	}
	eligible, err := s.evaluateEligibility(ctx, userID, def, state)
	if err != nil {
		return err
	}
	if eligible {
		expires := now.Add(s.claimWindowFor(def))
		if err := s.store.SetAfterClaim(ctx, userID, def.ID, StatusUnlocked, now, &expires); err != nil {
			return err
		}
		payout.Reopened = true
		return nil
	}
	return s.store.SetAfterClaim(ctx, userID, def.ID, StatusLocked, now, nil)
}

// GetAvailableRewards возвращает список наград пользователя с прогрессом.
// Секретные награды скрыты, пока не разблокированы, если не запрошено
// иное (админский просмотр). Сортировка: доступные к получению,
// затем закрытые, затем полученные; внутри — по display_order.
func (s *Service) GetAvailableRewards(ctx context.Context, userID int64, includeSecret bool) ([]Listed, error) {
	defs, err := s.store.ActiveDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var listed []Listed
	for _, def := range defs {
		if err := s.store.EnsureState(ctx, userID, def.ID); err != nil {
			return nil, err
		}
		state, err := s.store.State(ctx, userID, def.ID)
		if err != nil {
			return nil, err
		}
		if state.windowElapsed(now) {
			if _, err := s.store.MarkExpired(ctx, userID, def.ID, now); err != nil {
				return nil, err
			}
			state.Status = StatusExpired
		}
		if def.Secret && !includeSecret && state.Status == StatusLocked {
			continue
		}
		progress, err := s.progressFor(ctx, userID, def, state)
		if err != nil {
			return nil, err
		}
		listed = append(listed, Listed{Definition: def, State: state, Progress: progress})
	}

	sort.SliceStable(listed, func(i, j int) bool {
		pi, pj := statusPriority[listed[i].State.Status], statusPriority[listed[j].State.Status]
		if pi != pj {
			return pi < pj
		}
		return listed[i].Definition.DisplayOrder < listed[j].Definition.DisplayOrder
	})
	return listed, nil
}

// GetRewardProgress возвращает прогресс по условиям одной награды.
func (s *Service) GetRewardProgress(ctx context.Context, userID, rewardID int64) ([]Progress, error) {
	def, err := s.store.Definition(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnsureState(ctx, userID, rewardID); err != nil {
		return nil, err
	}
	state, err := s.store.State(ctx, userID, rewardID)
	if err != nil {
		return nil, err
	}
	return s.progressFor(ctx, userID, def, state)
}

// progressFor собирает прогресс по всем группам условий награды.
func (s *Service) progressFor(ctx context.Context, userID int64, def *Definition, state *UserState) ([]Progress, error) {
	var out []Progress
	for _, group := range GroupConditions(def.Conditions) {
		for _, c := range group.Conditions {
			res, err := s.evaluateCondition(ctx, userID, c, state)
			if err != nil {
				return nil, err
			}
			out = append(out, Progress{
				Kind:     c.Kind,
				GroupID:  group.GroupID,
				Logic:    group.Logic,
				Current:  res.current,
				Required: res.required,
				Passed:   res.passed,
			})
		}
	}
	return out, nil
}

// ExpireOverdueWindows — фоновая пометка всех просроченных окон.
// Вызывается планировщиком раз в час.
func (s *Service) ExpireOverdueWindows(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireOverdueWindows(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.WithField("count", n).Info("Просроченные окна наград помечены")
	}
	return n, nil
}

// CreateDefinition добавляет новую награду с условиями.
func (s *Service) CreateDefinition(ctx context.Context, def *Definition) (int64, error) {
	if def.Name == "" {
		return 0, fmt.Errorf("награда без названия")
	}
	id, err := s.store.CreateDefinition(ctx, def)
	if err != nil {
		return 0, err
	}
	for i := range def.Conditions {
		def.Conditions[i].RewardID = id
		if _, err := s.store.AddCondition(ctx, &def.Conditions[i]); err != nil {
			return 0, err
		}
	}
	log.WithFields(log.Fields{"reward_id": id, "name": def.Name}).Info("Награда создана")
	return id, nil
}
