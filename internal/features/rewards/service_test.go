package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"serotonyl.ru/besitos-bot/internal/common"
	"serotonyl.ru/besitos-bot/internal/config"
	"serotonyl.ru/besitos-bot/internal/features/ledger"
	"serotonyl.ru/besitos-bot/internal/features/streak"
)

// memRewardStore повторяет условные семантики PostgreSQL-репозитория:
// каждый переход проверяет текущий статус и окно.
type memRewardStore struct {
	mu     sync.Mutex
	defs   []*Definition
	states map[string]*UserState
	nextID int64
}

func stateKey(userID, rewardID int64) string {
	return fmt.Sprintf("%d:%d", userID, rewardID)
}

func newMemRewardStore() *memRewardStore {
	return &memRewardStore{states: map[string]*UserState{}}
}

func (m *memRewardStore) ActiveDefinitions(_ context.Context) ([]*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Definition
	for _, d := range m.defs {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRewardStore) Definition(_ context.Context, rewardID int64) (*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.defs {
		if d.ID == rewardID {
			return d, nil
		}
	}
	return nil, common.ErrRewardNotFound
}

func (m *memRewardStore) CreateDefinition(_ context.Context, d *Definition) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.defs = append(m.defs, d)
	return d.ID, nil
}

func (m *memRewardStore) AddCondition(_ context.Context, c *Condition) (int64, error) {
	return c.ID, nil
}

func (m *memRewardStore) EnsureState(_ context.Context, userID, rewardID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := stateKey(userID, rewardID)
	if _, ok := m.states[k]; !ok {
		m.states[k] = &UserState{UserID: userID, RewardID: rewardID, Status: StatusLocked}
	}
	return nil
}

func (m *memRewardStore) State(_ context.Context, userID, rewardID int64) (*UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(userID, rewardID)]
	if !ok {
		return nil, common.ErrRewardNotFound
	}
	snapshot := *st
	return &snapshot, nil
}

func (m *memRewardStore) Unlock(_ context.Context, userID, rewardID int64, from []Status, now, expires time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(userID, rewardID)]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if st.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	st.Status = StatusUnlocked
	st.UnlockedAt = &now
	st.ExpiresAt = &expires
	return true, nil
}

func (m *memRewardStore) MarkExpired(_ context.Context, userID, rewardID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(userID, rewardID)]
	if !ok || st.Status != StatusUnlocked || st.ExpiresAt == nil || st.ExpiresAt.After(now) {
		return false, nil
	}
	st.Status = StatusExpired
	return true, nil
}

func (m *memRewardStore) ClaimTransition(_ context.Context, userID, rewardID int64, now time.Time) (*UserState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(userID, rewardID)]
	if !ok || st.Status != StatusUnlocked {
		return nil, false, nil
	}
	if st.ExpiresAt != nil && !st.ExpiresAt.After(now) {
		return nil, false, nil
	}
	st.Status = StatusClaimed
	st.ClaimedAt = &now
	st.LastClaimedAt = &now
	st.ClaimCount++
	snapshot := *st
	return &snapshot, true, nil
}

func (m *memRewardStore) RevertClaim(_ context.Context, userID, rewardID int64, prev *UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(userID, rewardID)]
	if !ok || st.Status != StatusClaimed {
		return nil
	}
	st.Status = StatusUnlocked
	st.ClaimedAt = prev.ClaimedAt
	st.LastClaimedAt = prev.LastClaimedAt
	st.ClaimCount = prev.ClaimCount
	return nil
}

func (m *memRewardStore) SetAfterClaim(_ context.Context, userID, rewardID int64, to Status, now time.Time, expires *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(userID, rewardID)]
	if !ok || st.Status != StatusClaimed {
		return nil
	}
	st.Status = to
	st.ExpiresAt = expires
	if to == StatusUnlocked {
		st.UnlockedAt = &now
	} else {
		st.UnlockedAt = nil
	}
	return nil
}

func (m *memRewardStore) ExpireOverdueWindows(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, st := range m.states {
		if st.Status == StatusUnlocked && st.ExpiresAt != nil && !st.ExpiresAt.After(now) {
			st.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

// fakeLedgerSource отдаёт заданные накопления и записывает начисления.
type fakeLedgerSource struct {
	mu         sync.Mutex
	earned     int64
	spent      int64
	level      int
	categories map[ledger.Category]bool
	earns      []int64
	failEarn   error
}

func newFakeLedgerSource() *fakeLedgerSource {
	return &fakeLedgerSource{level: 1, categories: map[ledger.Category]bool{}}
}

func (f *fakeLedgerSource) AccountSnapshot(_ context.Context, _ int64) (int64, int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.earned, f.spent, f.level, nil
}

func (f *fakeLedgerSource) HasCategory(_ context.Context, _ int64, category ledger.Category) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories[category], nil
}

func (f *fakeLedgerSource) Earn(_ context.Context, _ int64, amount int64, category ledger.Category, _ string, _ ledger.Metadata) (*ledger.EarnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEarn != nil {
		return nil, f.failEarn
	}
	f.earned += amount
	f.categories[category] = true
	f.earns = append(f.earns, amount)
	return &ledger.EarnResult{Entry: &ledger.Entry{Amount: amount}, Balance: f.earned, OldLevel: 1, NewLevel: 1}, nil
}

type fakeStreakSource struct {
	lengths map[streak.Kind]int
}

func (f *fakeStreakSource) CurrentLength(_ context.Context, _ int64, kind streak.Kind) (int, error) {
	return f.lengths[kind], nil
}

type fakeMemberSource struct {
	vip       bool
	vipUntil  time.Time
	granted   []string
	failGrant error
}

func (f *fakeMemberSource) IsVIP(_ context.Context, _ int64) (bool, error) {
	return f.vip, nil
}

func (f *fakeMemberSource) ExtendVIP(_ context.Context, _ int64, days int) (time.Time, error) {
	f.vipUntil = time.Now().UTC().AddDate(0, 0, days)
	return f.vipUntil, nil
}

func (f *fakeMemberSource) GrantContent(_ context.Context, _ int64, contentKey string) error {
	if f.failGrant != nil {
		return f.failGrant
	}
	f.granted = append(f.granted, contentKey)
	return nil
}

type engine struct {
	svc     *Service
	store   *memRewardStore
	ledger  *fakeLedgerSource
	streaks *fakeStreakSource
	members *fakeMemberSource
}

func newEngine() *engine {
	store := newMemRewardStore()
	led := newFakeLedgerSource()
	str := &fakeStreakSource{lengths: map[streak.Kind]int{}}
	mem := &fakeMemberSource{}
	cfg := &config.Config{
		RewardMaxBesitos:       100,
		RewardMaxVIPDays:       30,
		RewardClaimWindowHours: 72,
	}
	return &engine{
		svc:     NewService(store, led, str, mem, cfg),
		store:   store,
		ledger:  led,
		streaks: str,
		members: mem,
	}
}

func (e *engine) addReward(t *testing.T, def *Definition) int64 {
	t.Helper()
	def.Active = true
	id, err := e.store.CreateDefinition(context.Background(), def)
	if err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	for i := range def.Conditions {
		def.Conditions[i].RewardID = id
	}
	return id
}

func intp(v int64) *int64 { return &v }

func TestGroupConditions(t *testing.T) {
	conditions := []Condition{
		{Kind: CondStreakLength, Value: intp(5), GroupNum: 2},
		{Kind: CondTotalPoints, Value: intp(100), GroupNum: 0},
		{Kind: CondNotVIP, GroupNum: 0},
		{Kind: CondLevelReached, Value: intp(3), GroupNum: 1},
	}
	groups := GroupConditions(conditions)
	if len(groups) != 3 {
		t.Fatalf("групп = %d, ожидалось 3", len(groups))
	}
	if groups[0].Logic != LogicAnd || len(groups[0].Conditions) != 2 {
		t.Errorf("первая группа должна быть AND с двумя условиями: %+v", groups[0])
	}
	if groups[1].GroupID != 1 || groups[2].GroupID != 2 {
		t.Errorf("OR-корзины должны идти по номерам: %d, %d", groups[1].GroupID, groups[2].GroupID)
	}
	for _, g := range groups[1:] {
		if g.Logic != LogicOr {
			t.Errorf("группа %d должна быть OR", g.GroupID)
		}
	}
}

func TestCheckRewardsOnEventUnlocks(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Неделя подряд",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 50},
		Conditions: []Condition{{Kind: CondStreakLength, Value: intp(7), GroupNum: 0}},
	})

	// Серия короче порога — награда остаётся закрытой
	e.streaks.lengths[streak.KindDailyGift] = 3
	unlocked, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if err != nil {
		t.Fatalf("CheckRewardsOnEvent: %v", err)
	}
	if len(unlocked) != 0 {
		t.Errorf("разблокировано %d наград, ожидалось 0", len(unlocked))
	}

	e.streaks.lengths[streak.KindDailyGift] = 7
	unlocked, err = e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if err != nil {
		t.Fatalf("CheckRewardsOnEvent: %v", err)
	}
	if len(unlocked) != 1 || unlocked[0].ID != id {
		t.Fatalf("ожидалась одна разблокировка награды %d, получили %v", id, unlocked)
	}

	st, _ := e.store.State(ctx, 1, id)
	if st.Status != StatusUnlocked {
		t.Errorf("статус = %s, ожидалось UNLOCKED", st.Status)
	}
	if st.ExpiresAt == nil {
		t.Error("у разблокированной награды должно быть окно получения")
	}

	// Повторное событие не дублирует разблокировку
	unlocked, _ = e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if len(unlocked) != 0 {
		t.Errorf("повторная разблокировка: %d", len(unlocked))
	}
}

func TestEventFilterSkipsUnrelatedRewards(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Пятый уровень",
		PayoutKind: PayoutBadge,
		Payout:     PayoutPayload{Badge: "level5"},
		Conditions: []Condition{{Kind: CondLevelReached, Value: intp(5), GroupNum: 0}},
	})
	e.ledger.level = 5

	// purchase_completed не затрагивает LEVEL_REACHED —
	// награда не пересчитывается, даже когда условие уже выполнено
	unlocked, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventPurchaseCompleted)
	if err != nil {
		t.Fatalf("CheckRewardsOnEvent: %v", err)
	}
	if len(unlocked) != 0 {
		t.Errorf("непрофильное событие разблокировало награду %d", id)
	}

	unlocked, err = e.svc.CheckRewardsOnEvent(ctx, 1, EventLevelUp)
	if err != nil {
		t.Fatalf("CheckRewardsOnEvent: %v", err)
	}
	if len(unlocked) != 1 {
		t.Errorf("профильное событие не разблокировало награду")
	}
}

func TestOrBucketsLaw(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Комбинированная",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 10},
		Conditions: []Condition{
			{Kind: CondTotalPoints, Value: intp(100), GroupNum: 0},
			{Kind: CondStreakLength, Value: intp(5), GroupNum: 1},
			{Kind: CondLevelReached, Value: intp(3), GroupNum: 1},
		},
	})

	// AND-группа проходит, OR-корзина нет
	e.ledger.earned = 150
	unlocked, _ := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if len(unlocked) != 0 {
		t.Error("награда открылась без выполненной OR-корзины")
	}

	// Одно из условий OR-корзины достаточно
	e.streaks.lengths[streak.KindDailyGift] = 5
	unlocked, _ = e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if len(unlocked) != 1 || unlocked[0].ID != id {
		t.Error("награда не открылась при выполненных AND-группе и OR-корзине")
	}
}

func TestClaimBesitosCapping(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Щедрая",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 1000},
	})

	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	payout, err := e.svc.Claim(ctx, 1, id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if payout.Amount != 100 {
		t.Errorf("выплачено %d, ожидался потолок 100", payout.Amount)
	}
	if !payout.WasCapped {
		t.Error("WasCapped должен быть true")
	}
	if len(e.ledger.earns) != 1 || e.ledger.earns[0] != 100 {
		t.Errorf("в леджер ушло %v, ожидалось [100]", e.ledger.earns)
	}
}

func TestClaimStateMachine(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Одноразовая",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 25},
		Conditions: []Condition{{Kind: CondTotalPoints, Value: intp(1000), GroupNum: 0}},
	})

	// LOCKED: условие не выполнено, запись есть, получить нельзя
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := e.svc.Claim(ctx, 1, id); !errors.Is(err, common.ErrRewardLocked) {
		t.Errorf("получение LOCKED: %v, ожидалось ErrRewardLocked", err)
	}

	e.ledger.earned = 1000
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := e.svc.Claim(ctx, 1, id); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := e.svc.Claim(ctx, 1, id); !errors.Is(err, common.ErrAlreadyClaimed) {
		t.Errorf("повторное получение: %v, ожидалось ErrAlreadyClaimed", err)
	}

	// Неповторяемая награда не открывается заново даже при выполненных условиях
	unlocked, _ := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if len(unlocked) != 0 {
		t.Error("неповторяемая CLAIMED-награда открылась заново")
	}
}

func TestClaimExpiredWindow(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Проспанная",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 10},
	})

	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	// Сдвигаем окно в прошлое
	past := time.Now().UTC().Add(-time.Hour)
	e.store.mu.Lock()
	e.store.states[stateKey(1, id)].ExpiresAt = &past
	e.store.mu.Unlock()

	if _, err := e.svc.Claim(ctx, 1, id); !errors.Is(err, common.ErrRewardExpired) {
		t.Errorf("получение после окна: %v, ожидалось ErrRewardExpired", err)
	}
	st, _ := e.store.State(ctx, 1, id)
	if st.Status != StatusExpired {
		t.Errorf("статус после просрочки = %s, ожидалось EXPIRED", st.Status)
	}
	if len(e.ledger.earns) != 0 {
		t.Error("просроченная награда не должна выплачиваться")
	}

	// EXPIRED открывается заново следующим подходящим событием
	unlocked, _ := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if len(unlocked) != 1 {
		t.Error("EXPIRED-награда не открылась заново")
	}
}

func TestClaimPayoutFailureReverts(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Сломанная выплата",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 10},
	})

	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	e.ledger.failEarn = errors.New("леджер недоступен")

	if _, err := e.svc.Claim(ctx, 1, id); err == nil {
		t.Fatal("ожидалась ошибка выплаты")
	}
	st, _ := e.store.State(ctx, 1, id)
	if st.Status != StatusUnlocked {
		t.Errorf("статус после отката = %s, ожидалось UNLOCKED", st.Status)
	}
	if st.ClaimCount != 0 {
		t.Errorf("claim_count после отката = %d, ожидалось 0", st.ClaimCount)
	}

	// Повторная попытка после восстановления леджера проходит
	e.ledger.failEarn = nil
	if _, err := e.svc.Claim(ctx, 1, id); err != nil {
		t.Errorf("повторное получение после отката: %v", err)
	}
	if len(e.ledger.earns) != 1 {
		t.Errorf("выплат = %d, ожидалась ровно одна", len(e.ledger.earns))
	}
}

func TestRepeatableReopensAfterClaim(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Повторяемая",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 5},
		Repeatable: true,
		Conditions: []Condition{{Kind: CondStreakLength, Value: intp(3), GroupNum: 0}},
	})

	e.streaks.lengths[streak.KindDailyGift] = 3
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	payout, err := e.svc.Claim(ctx, 1, id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !payout.Reopened {
		t.Error("условия всё ещё выполнены — награда должна открыться заново")
	}
	st, _ := e.store.State(ctx, 1, id)
	if st.Status != StatusUnlocked {
		t.Errorf("статус = %s, ожидалось UNLOCKED", st.Status)
	}

	// Условия перестали выполняться — после получения закрывается
	if _, err := e.svc.Claim(ctx, 1, id); err != nil {
		t.Fatalf("второе получение: %v", err)
	}
	e.streaks.lengths[streak.KindDailyGift] = 0
	// Третий цикл: открыта после второго получения, получаем и закрываемся
	payout, err = e.svc.Claim(ctx, 1, id)
	if err != nil {
		t.Fatalf("третье получение: %v", err)
	}
	if payout.Reopened {
		t.Error("условия не выполнены — награда не должна открыться заново")
	}
	st, _ = e.store.State(ctx, 1, id)
	if st.Status != StatusLocked {
		t.Errorf("статус = %s, ожидалось LOCKED", st.Status)
	}
	if st.ClaimCount != 3 {
		t.Errorf("claim_count = %d, ожидалось 3", st.ClaimCount)
	}
}

func TestClaimVIPAndContentPayouts(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	vipID := e.addReward(t, &Definition{
		Name:       "Год VIP",
		PayoutKind: PayoutVIPExtension,
		Payout:     PayoutPayload{Days: 365},
	})
	contentID := e.addReward(t, &Definition{
		Name:       "Секретный стикерпак",
		PayoutKind: PayoutContent,
		Payout:     PayoutPayload{ContentKey: "stickers:rare"},
	})

	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	payout, err := e.svc.Claim(ctx, 1, vipID)
	if err != nil {
		t.Fatalf("Claim VIP: %v", err)
	}
	if payout.Days != 30 || !payout.WasCapped {
		t.Errorf("VIP-дни = %d (capped=%v), ожидалось 30/true", payout.Days, payout.WasCapped)
	}
	if payout.VIPUntil == nil {
		t.Error("VIPUntil должен быть заполнен")
	}

	payout, err = e.svc.Claim(ctx, 1, contentID)
	if err != nil {
		t.Fatalf("Claim content: %v", err)
	}
	if payout.ContentKey != "stickers:rare" {
		t.Errorf("ContentKey = %q", payout.ContentKey)
	}
	if len(e.members.granted) != 1 || e.members.granted[0] != "stickers:rare" {
		t.Errorf("выдано %v", e.members.granted)
	}
}

func TestNotClaimedBeforeCondition(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Только новичкам",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 10},
		Repeatable: true,
		Conditions: []Condition{{Kind: CondNotClaimedBefore, GroupNum: 0}},
	})

	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	payout, err := e.svc.Claim(ctx, 1, id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// После первого получения условие «ещё не получал» падает
	if payout.Reopened {
		t.Error("награда для новичков не должна открываться повторно")
	}
	unlocked, _ := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed)
	if len(unlocked) != 0 {
		t.Error("NOT_CLAIMED_BEFORE должно блокировать переоткрытие")
	}
}

func TestSecretHiddenWhileLocked(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	e.addReward(t, &Definition{
		Name:       "Секретная",
		PayoutKind: PayoutBadge,
		Secret:     true,
		Conditions: []Condition{{Kind: CondTotalPoints, Value: intp(500), GroupNum: 0}},
	})
	e.addReward(t, &Definition{
		Name:       "Обычная",
		PayoutKind: PayoutBadge,
		Conditions: []Condition{{Kind: CondTotalPoints, Value: intp(500), GroupNum: 0}},
	})

	listed, err := e.svc.GetAvailableRewards(ctx, 1, false)
	if err != nil {
		t.Fatalf("GetAvailableRewards: %v", err)
	}
	if len(listed) != 1 || listed[0].Definition.Name != "Обычная" {
		t.Fatalf("секретная закрытая награда не должна выдаваться: %d", len(listed))
	}

	// Админский просмотр видит всё
	all, _ := e.svc.GetAvailableRewards(ctx, 1, true)
	if len(all) != 2 {
		t.Errorf("с includeSecret ожидалось 2 награды, получили %d", len(all))
	}

	// После разблокировки секретная появляется
	e.ledger.earned = 500
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	listed, _ = e.svc.GetAvailableRewards(ctx, 1, false)
	if len(listed) != 2 {
		t.Errorf("после разблокировки ожидалось 2 награды, получили %d", len(listed))
	}
}

func TestListOrderingAndProgress(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	claimedID := e.addReward(t, &Definition{
		Name: "Полученная", PayoutKind: PayoutBadge, DisplayOrder: 1,
	})
	e.addReward(t, &Definition{
		Name: "Закрытая", PayoutKind: PayoutBadge, DisplayOrder: 2,
		Conditions: []Condition{{Kind: CondTotalPoints, Value: intp(200), GroupNum: 0}},
	})
	e.addReward(t, &Definition{
		Name: "Открытая", PayoutKind: PayoutBadge, DisplayOrder: 3,
	})

	e.ledger.earned = 80
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := e.svc.Claim(ctx, 1, claimedID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	listed, err := e.svc.GetAvailableRewards(ctx, 1, false)
	if err != nil {
		t.Fatalf("GetAvailableRewards: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("наград = %d, ожидалось 3", len(listed))
	}
	order := []string{listed[0].Definition.Name, listed[1].Definition.Name, listed[2].Definition.Name}
	want := []string{"Открытая", "Закрытая", "Полученная"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("порядок %v, ожидалось %v", order, want)
		}
	}

	// Прогресс закрытой награды показывает текущие значения
	progress := listed[1].Progress
	if len(progress) != 1 {
		t.Fatalf("условий в прогрессе = %d, ожидалось 1", len(progress))
	}
	p := progress[0]
	if p.Current != 80 || p.Required != 200 || p.Passed {
		t.Errorf("прогресс = %+v, ожидалось 80/200 не пройдено", p)
	}
}

func TestExpireOverdueWindowsSweep(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id1 := e.addReward(t, &Definition{Name: "Первая", PayoutKind: PayoutBadge})
	id2 := e.addReward(t, &Definition{Name: "Вторая", PayoutKind: PayoutBadge})

	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	e.store.mu.Lock()
	e.store.states[stateKey(1, id1)].ExpiresAt = &past
	e.store.mu.Unlock()

	count, err := e.svc.ExpireOverdueWindows(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdueWindows: %v", err)
	}
	if count != 1 {
		t.Errorf("помечено %d записей, ожидалась 1", count)
	}
	st1, _ := e.store.State(ctx, 1, id1)
	st2, _ := e.store.State(ctx, 1, id2)
	if st1.Status != StatusExpired {
		t.Errorf("просроченная запись: %s", st1.Status)
	}
	if st2.Status != StatusUnlocked {
		t.Errorf("живая запись: %s", st2.Status)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Гонка",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 10},
	})
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Claim(ctx, 1, id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, common.ErrAlreadyClaimed) {
			t.Errorf("неожиданная ошибка: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("выиграло %d получений, ожидалось ровно 1", wins)
	}
	if len(e.ledger.earns) != 1 {
		t.Errorf("выплат = %d, ожидалась одна", len(e.ledger.earns))
	}
}

// loserOnceStore один раз «проигрывает» условный переход получения,
// не меняя состояние: как будто конкурент получил повторяемую награду,
// и она успела переоткрыться до нашего перечитывания.
type loserOnceStore struct {
	*memRewardStore
	loseMu sync.Mutex
	lose   bool
}

func (l *loserOnceStore) ClaimTransition(ctx context.Context, userID, rewardID int64, now time.Time) (*UserState, bool, error) {
	l.loseMu.Lock()
	lose := l.lose
	l.lose = false
	l.loseMu.Unlock()
	if lose {
		return nil, false, nil
	}
	return l.memRewardStore.ClaimTransition(ctx, userID, rewardID, now)
}

func TestClaimRaceLoserAgainstReopenedReward(t *testing.T) {
	base := newMemRewardStore()
	store := &loserOnceStore{memRewardStore: base, lose: true}
	led := newFakeLedgerSource()
	svc := NewService(store, led, &fakeStreakSource{lengths: map[streak.Kind]int{}}, &fakeMemberSource{}, &config.Config{
		RewardMaxBesitos:       100,
		RewardMaxVIPDays:       30,
		RewardClaimWindowHours: 72,
	})
	ctx := context.Background()

	id, err := base.CreateDefinition(ctx, &Definition{
		Name:       "Гонка с переоткрытием",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 5},
		Repeatable: true,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	if _, err := svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	// Проигравший видит снова-UNLOCKED состояние, но всё равно должен
	// получить дискретную ошибку, а не «успех» без выплаты
	payout, err := svc.Claim(ctx, 1, id)
	if !errors.Is(err, common.ErrAlreadyClaimed) {
		t.Fatalf("проигрыш гонки: payout=%v err=%v, ожидалось ErrAlreadyClaimed", payout, err)
	}
	if payout != nil {
		t.Errorf("проигравший не должен получать выплату: %+v", payout)
	}
	if len(led.earns) != 0 {
		t.Errorf("в леджер ушло %v, ожидалось пусто", led.earns)
	}

	// Следующая попытка без помех проходит
	if _, err := svc.Claim(ctx, 1, id); err != nil {
		t.Errorf("повторное получение: %v", err)
	}
}

func TestClaimWithoutPriorEvaluationReportsLocked(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{
		Name:       "Нетронутая",
		PayoutKind: PayoutBesitos,
		Payout:     PayoutPayload{Amount: 10},
		Conditions: []Condition{{Kind: CondTotalPoints, Value: intp(500), GroupNum: 0}},
	})

	// Пользователь ни разу не смотрел награды — записи состояния ещё нет
	if _, err := e.svc.Claim(ctx, 1, id); !errors.Is(err, common.ErrRewardLocked) {
		t.Errorf("получение без записи состояния: %v, ожидалось ErrRewardLocked", err)
	}
	st, err := e.store.State(ctx, 1, id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.Status != StatusLocked {
		t.Errorf("статус = %s, ожидалось LOCKED", st.Status)
	}
}

func TestClaimInactiveReward(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	id := e.addReward(t, &Definition{Name: "Выключенная", PayoutKind: PayoutBadge})
	if _, err := e.svc.CheckRewardsOnEvent(ctx, 1, EventDailyGiftClaimed); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	e.store.mu.Lock()
	e.store.defs[0].Active = false
	e.store.mu.Unlock()

	if _, err := e.svc.Claim(ctx, 1, id); !errors.Is(err, common.ErrRewardInactive) {
		t.Errorf("получение выключенной награды: %v, ожидалось ErrRewardInactive", err)
	}
}
