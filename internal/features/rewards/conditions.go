// Package rewards — conditions.go вычисляет условия наград.
//
// Итоговая доступность = (все условия AND-группы прошли) И
// (в каждой OR-корзине прошло хотя бы одно условие).
// Награда без условий доступна всегда.
package rewards

import (
	"context"
	"fmt"

	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/features/streak"
)

// affectedKinds — какие виды условий может затронуть каждое событие.
// Движок пересчитывает только активные награды, имеющие хотя бы одно
// условие затронутого вида.
var affectedKinds = map[EventType][]ConditionKind{
	EventDailyGiftClaimed:  {CondStreakLength, CondFirstDailyGift, CondTotalPoints},
	EventReactionAdded:     {CondFirstReaction, CondTotalPoints},
	EventPurchaseCompleted: {CondFirstPurchase, CondBesitosSpent},
	EventLevelUp:           {CondLevelReached},
	EventStreakUpdated:     {CondStreakLength},
}

// triggerKinds — виды условий, которые продвигаются событиями.
// Исключающие условия (NOT_VIP, NOT_CLAIMED_BEFORE) сюда не входят:
// их никакое событие не «затрагивает».
var triggerKinds = map[ConditionKind]bool{
	CondStreakLength:   true,
	CondTotalPoints:    true,
	CondLevelReached:   true,
	CondBesitosSpent:   true,
	CondFirstPurchase:  true,
	CondFirstDailyGift: true,
	CondFirstReaction:  true,
}

// touchesKinds сообщает, нужно ли пересчитывать награду по событию
// с затронутыми видами kinds. Награда без триггерных условий
// (пустая или только исключающая) пересчитывается на любом событии —
// иначе она не открылась бы никогда.
func touchesKinds(def *Definition, kinds []ConditionKind) bool {
	hasTrigger := false
	for _, c := range def.Conditions {
		if triggerKinds[c.Kind] {
			hasTrigger = true
		}
		for _, k := range kinds {
			if c.Kind == k {
				return true
			}
		}
	}
	return !hasTrigger
}

// evalResult — итог вычисления одного условия.
type evalResult struct {
	passed   bool
	current  int64
	required int64
}

// evaluateCondition вычисляет одно условие для пользователя.
// state нужен только условию NOT_CLAIMED_BEFORE.
func (s *Service) evaluateCondition(ctx context.Context, userID int64, c Condition, state *UserState) (evalResult, error) {
	required := int64(0)
	if c.Value != nil {
		required = *c.Value
	}

	numeric := func(current int64) evalResult {
		return evalResult{passed: current >= required, current: current, required: required}
	}
	boolean := func(passed bool) evalResult {
		var cur int64
		if passed {
			cur = 1
		}
		return evalResult{passed: passed, current: cur, required: 1}
	}

	switch c.Kind {
	case CondStreakLength:
		length, err := s.streaks.CurrentLength(ctx, userID, streak.KindDailyGift)
		if err != nil {
			return evalResult{}, err
		}
		return numeric(int64(length)), nil

	case CondTotalPoints:
		earned, _, _, err := s.ledger.AccountSnapshot(ctx, userID)
		if err != nil {
			return evalResult{}, err
		}
		return numeric(earned), nil

	case CondLevelReached:
		_, _, level, err := s.ledger.AccountSnapshot(ctx, userID)
		if err != nil {
			return evalResult{}, err
		}
		return numeric(int64(level)), nil

	case CondBesitosSpent:
		_, spent, _, err := s.ledger.AccountSnapshot(ctx, userID)
		if err != nil {
			return evalResult{}, err
		}
		return numeric(spent), nil

	case CondFirstPurchase:
		has, err := s.ledger.HasCategory(ctx, userID, ledger.CategorySpendShop)
		if err != nil {
			return evalResult{}, err
		}
		return boolean(has), nil

	case CondFirstDailyGift:
		has, err := s.ledger.HasCategory(ctx, userID, ledger.CategoryEarnDaily)
		if err != nil {
			return evalResult{}, err
		}
		return boolean(has), nil

	case CondFirstReaction:
		has, err := s.ledger.HasCategory(ctx, userID, ledger.CategoryEarnReaction)
		if err != nil {
			return evalResult{}, err
		}
		return boolean(has), nil

	case CondNotVIP:
		vip, err := s.members.IsVIP(ctx, userID)
		if err != nil {
			return evalResult{}, err
		}
		return boolean(!vip), nil

	case CondNotClaimedBefore:
		return boolean(state == nil || state.ClaimCount == 0), nil
	}

	return evalResult{}, fmt.Errorf("неизвестный вид условия %q", c.Kind)
}

// evaluateEligibility вычисляет доступность награды по группам условий.
func (s *Service) evaluateEligibility(ctx context.Context, userID int64, def *Definition, state *UserState) (bool, error) {
	for _, group := range GroupConditions(def.Conditions) {
		switch group.Logic {
		case LogicAnd:
			for _, c := range group.Conditions {
				res, err := s.evaluateCondition(ctx, userID, c, state)
				if err != nil {
					return false, err
				}
				if !res.passed {
					return false, nil
				}
			}
		case LogicOr:
			anyPassed := false
			for _, c := range group.Conditions {
				res, err := s.evaluateCondition(ctx, userID, c, state)
				if err != nil {
					return false, err
				}
				if res.passed {
					anyPassed = true
					break
				}
			}
			if !anyPassed {
				return false, nil
			}
		}
	}
	return true, nil
}
